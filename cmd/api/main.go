package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/gradeq/internal/config"
	"github.com/SirClappington/gradeq/internal/delivery"
	"github.com/SirClappington/gradeq/internal/domain"
	"github.com/SirClappington/gradeq/internal/notifier"
	"github.com/SirClappington/gradeq/internal/queue"
	"github.com/SirClappington/gradeq/internal/storage"
)

// server is the external xqueue interface: the LMS submits here, pull-style
// graders fetch work and post results here.
type server struct {
	cfg     config.Config
	store   *storage.Store
	lengths *queue.Lengths
	lms     *notifier.Notifier
	log     *zap.Logger
}

func main() {
	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	client := delivery.New(delivery.Options{
		BasicAuthUser: cfg.BasicAuthUser,
		BasicAuthPass: cfg.BasicAuthPass,
		VerifyTLS:     cfg.HTTPSVerify,
	}, log)

	s := &server{
		cfg:     cfg,
		store:   storage.New(db),
		lengths: queue.NewLengths(rdb),
		lms:     notifier.New(client, cfg.RequestsTimeout, log),
		log:     log,
	}

	rtr := chi.NewRouter()
	rtr.Post("/xqueue/submit", s.submit)
	rtr.Get("/xqueue/get_submission", s.getSubmission)
	rtr.Post("/xqueue/put_result", s.putResult)
	rtr.Get("/xqueue/queue_len", s.queueLen)

	log.Info("xqueue interface listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, rtr); err != nil {
		log.Fatal("listen", zap.Error(err))
	}
}

// reply mirrors the historical xqueue response envelope.
func reply(w http.ResponseWriter, ok bool, content string) {
	ret := 1
	if ok {
		ret = 0
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"return_code": ret, "content": content})
}

type submitRequest struct {
	RequesterID  string `json:"requester_id"`
	QueueName    string `json:"queue_name"`
	XQueueHeader string `json:"xqueue_header"`
	XQueueBody   string `json:"xqueue_body"`
	URLs         string `json:"urls"`
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, false, "malformed submission")
		return
	}
	if _, ok := s.cfg.XQueues[req.QueueName]; !ok {
		reply(w, false, "unknown queue")
		return
	}
	callbackURL, err := domain.CallbackURL(req.XQueueHeader)
	if err != nil {
		reply(w, false, "malformed xqueue_header")
		return
	}

	id := uuid.NewString()
	err = s.store.Insert(r.Context(), id, &storage.InsertParams{
		RequesterID:    req.RequesterID,
		LMSCallbackURL: callbackURL,
		QueueName:      req.QueueName,
		XQueueHeader:   req.XQueueHeader,
		XQueueBody:     req.XQueueBody,
		URLs:           req.URLs,
	})
	if err != nil {
		s.log.Error("insert submission", zap.Error(err))
		reply(w, false, "submission not accepted")
		return
	}
	if err := s.lengths.Incr(r.Context(), req.QueueName); err != nil {
		s.log.Warn("queue length incr", zap.Error(err))
	}
	reply(w, true, id)
}

func (s *server) getSubmission(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue_name")
	if _, ok := s.cfg.XQueues[queueName]; !ok {
		reply(w, false, "unknown queue")
		return
	}

	sub, err := s.store.LeaseNextPull(r.Context(), queueName, uuid.NewString(),
		time.Now().UTC(), s.cfg.SubmissionProcessingDelay)
	if err != nil {
		s.log.Error("pull lease", zap.Error(err))
		reply(w, false, "queue unavailable")
		return
	}
	if sub == nil {
		reply(w, false, "queue is empty")
		return
	}

	content, _ := json.Marshal(map[string]string{
		"submission_id":  sub.ID,
		"submission_key": sub.PullKey,
		"xqueue_header":  sub.XQueueHeader,
		"xqueue_body":    sub.XQueueBody,
		"xqueue_files":   sub.URLs,
	})
	reply(w, true, string(content))
}

type putResultRequest struct {
	SubmissionID  string `json:"submission_id"`
	SubmissionKey string `json:"submission_key"`
	XQueueBody    string `json:"xqueue_body"`
}

// putResult accepts a pull grader's reply, forwards it to the LMS, and
// retires the submission.
func (s *server) putResult(w http.ResponseWriter, r *http.Request) {
	var req putResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, false, "malformed result")
		return
	}

	sub, err := s.store.FindPulled(r.Context(), req.SubmissionID, req.SubmissionKey)
	if err != nil {
		s.log.Error("find pulled submission", zap.Error(err))
		reply(w, false, "queue unavailable")
		return
	}
	if sub == nil {
		reply(w, false, "submission does not exist")
		return
	}

	now := time.Now().UTC()
	sub.ReturnTime = &now
	sub.GraderReply = req.XQueueBody
	sub.LMSAck = s.lms.PostGrade(r.Context(), sub.XQueueHeader, req.XQueueBody)
	if !sub.LMSAck {
		sub.NumFailures++
	}
	sub.Retired = true

	if err := s.store.Finalize(r.Context(), sub); err != nil {
		s.log.Error("finalize pulled submission", zap.Error(err))
		reply(w, false, "result not recorded")
		return
	}
	if err := s.lengths.Decr(r.Context(), sub.QueueName); err != nil {
		s.log.Warn("queue length decr", zap.Error(err))
	}
	reply(w, true, "")
}

func (s *server) queueLen(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue_name")
	if _, ok := s.cfg.XQueues[queueName]; !ok {
		reply(w, false, "unknown queue")
		return
	}
	n, err := s.lengths.Get(r.Context(), queueName)
	if err != nil {
		// Fall back to the authoritative count.
		m, serr := s.store.QueueLength(r.Context(), queueName)
		if serr != nil {
			reply(w, false, "queue unavailable")
			return
		}
		n = int64(m)
	}
	reply(w, true, strconv.FormatInt(n, 10))
}
