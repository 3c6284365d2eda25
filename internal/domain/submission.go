package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// LeaseField selects which lease timestamp a selection query filters on.
// Pull is the external pull-grader interface, Push is the delivery worker.
type LeaseField string

const (
	Pull LeaseField = "pull_time"
	Push LeaseField = "push_time"
)

// Submission is the unit of work brokered between the LMS and a grader.
// Rows are created by the submit interface, mutated only during a
// lease+deliver cycle, and never deleted by this system.
type Submission struct {
	ID             string
	RequesterID    string
	LMSCallbackURL string
	QueueName      string
	XQueueHeader   string
	XQueueBody     string
	URLs           string

	ArrivalTime time.Time
	PullTime    *time.Time
	PushTime    *time.Time
	ReturnTime  *time.Time

	GraderID    string
	PullKey     string
	GraderReply string

	NumFailures int
	LMSAck      bool
	Retired     bool
}

// Header is the xqueue_header envelope. Only the callback address is
// interpreted here; everything else in the raw header passes through
// untouched.
type Header struct {
	LMSCallbackURL string `json:"lms_callback_url"`
}

// CallbackURL extracts the LMS callback address from a raw header.
func CallbackURL(rawHeader string) (string, error) {
	var h Header
	if err := json.Unmarshal([]byte(rawHeader), &h); err != nil {
		return "", errors.Wrap(err, "parse xqueue_header")
	}
	if h.LMSCallbackURL == "" {
		return "", errors.New("xqueue_header has no lms_callback_url")
	}
	return h.LMSCallbackURL, nil
}

// GraderPayload is the body POSTed to a push grader.
type GraderPayload struct {
	Body  string `json:"xqueue_body"`
	Files string `json:"xqueue_files"`
}

// CallbackPayload is the body POSTed back to the LMS callback.
type CallbackPayload struct {
	Header string `json:"xqueue_header"`
	Body   string `json:"xqueue_body"`
}

// FailureNotice is the fixed reply sent to the LMS when a submission could
// not be graded. The message is the only part of the system that assumes a
// renderable reply format on the LMS side.
const failureMsg = `<div class="capa_alert">` +
	`Your submission could not be graded. ` +
	`Please recheck your submission and try again. ` +
	`If the problem persists, please notify the course staff.` +
	`</div>`

func FailureNotice() string {
	b, _ := json.Marshal(map[string]interface{}{
		"correct": nil,
		"score":   0,
		"msg":     failureMsg,
	})
	return string(b)
}
