package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SirClappington/gradeq/internal/domain"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

const submissionCols = `id, requester_id, lms_callback_url, queue_name,
xqueue_header, xqueue_body, urls, arrival_time, pull_time, push_time,
return_time, grader_id, pullkey, grader_reply, num_failures, lms_ack, retired`

// leaseSQL builds the claim statement for one lease column. The inner select
// applies the eligibility predicate (unretired, right queue, never leased or
// leased longer than the processing delay ago) ordered oldest-first with id
// as the tiebreak. FOR UPDATE SKIP LOCKED makes select-and-stamp a single
// atomic claim: two racing workers cannot both get the same row.
func leaseSQL(field domain.LeaseField) string {
	var stamp string
	switch field {
	case domain.Pull:
		stamp = "pull_time = $2, pullkey = $4"
	case domain.Push:
		stamp = "push_time = $2, grader_id = $4"
	default:
		panic(fmt.Sprintf("unknown lease field %q", field))
	}
	return fmt.Sprintf(`
with next as (
  select id from submissions
   where queue_name = $1
     and retired = false
     and (%[1]s is null or %[1]s <= $2 - $3::interval)
   order by arrival_time, id
   limit 1
   for update skip locked
)
update submissions s
   set %[2]s
  from next
 where s.id = next.id
returning `+submissionCols, string(field), stamp)
}

// LeaseNextPush claims the oldest eligible submission on the queue for a
// push delivery, stamping push_time and the grader endpoint in the same
// statement. Returns (nil, nil) when the queue has no eligible work.
func (s *Store) LeaseNextPush(ctx context.Context, queue, graderID string, now time.Time, delay time.Duration) (*domain.Submission, error) {
	return s.leaseNext(ctx, domain.Push, queue, now, delay, graderID)
}

// LeaseNextPull claims the oldest eligible submission for the external pull
// interface, stamping pull_time and a fresh pull key.
func (s *Store) LeaseNextPull(ctx context.Context, queue, pullKey string, now time.Time, delay time.Duration) (*domain.Submission, error) {
	return s.leaseNext(ctx, domain.Pull, queue, now, delay, pullKey)
}

func (s *Store) leaseNext(ctx context.Context, field domain.LeaseField, queue string, now time.Time, delay time.Duration, owner string) (*domain.Submission, error) {
	row := s.db.QueryRow(ctx, leaseSQL(field), queue, now.UTC(), delay, owner)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lease next (%s)", field)
	}
	return sub, nil
}

// Finalize persists the result of a delivery attempt in one update:
// reply, failure count, return time, LMS acknowledgment, and the terminal
// retired flag.
func (s *Store) Finalize(ctx context.Context, sub *domain.Submission) error {
	_, err := s.db.Exec(ctx, `
update submissions
   set grader_reply = $2,
       num_failures = $3,
       return_time  = $4,
       lms_ack      = $5,
       retired      = $6
 where id = $1`,
		sub.ID, sub.GraderReply, sub.NumFailures, sub.ReturnTime, sub.LMSAck, sub.Retired)
	return errors.Wrap(err, "finalize submission")
}

// FindPulled fetches an unretired submission previously handed out through
// the pull interface, keyed by id and the pull key issued at lease time.
func (s *Store) FindPulled(ctx context.Context, id, pullKey string) (*domain.Submission, error) {
	row := s.db.QueryRow(ctx,
		`select `+submissionCols+` from submissions
		  where id = $1 and pullkey = $2 and retired = false`, id, pullKey)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find pulled submission")
	}
	return sub, nil
}

type InsertParams struct {
	RequesterID    string
	LMSCallbackURL string
	QueueName      string
	XQueueHeader   string
	XQueueBody     string
	URLs           string
}

// Insert persists a new submission with a null lease state.
func (s *Store) Insert(ctx context.Context, id string, p *InsertParams) error {
	_, err := s.db.Exec(ctx, `
insert into submissions(id, requester_id, lms_callback_url, queue_name,
                        xqueue_header, xqueue_body, urls, arrival_time)
values ($1,$2,$3,$4,$5,$6,$7,now())`,
		id, p.RequesterID, p.LMSCallbackURL, p.QueueName,
		p.XQueueHeader, p.XQueueBody, p.URLs)
	return errors.Wrap(err, "insert submission")
}

// QueueLength counts unretired submissions on the queue. The Redis gauge is
// the cheap read path; this is the authoritative one.
func (s *Store) QueueLength(ctx context.Context, queue string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`select count(*) from submissions where queue_name = $1 and retired = false`,
		queue).Scan(&n)
	return n, errors.Wrap(err, "queue length")
}

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	err := row.Scan(
		&sub.ID, &sub.RequesterID, &sub.LMSCallbackURL, &sub.QueueName,
		&sub.XQueueHeader, &sub.XQueueBody, &sub.URLs, &sub.ArrivalTime,
		&sub.PullTime, &sub.PushTime, &sub.ReturnTime,
		&sub.GraderID, &sub.PullKey, &sub.GraderReply,
		&sub.NumFailures, &sub.LMSAck, &sub.Retired,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
