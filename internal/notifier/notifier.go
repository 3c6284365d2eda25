// Package notifier returns grading outcomes to the LMS callback with a
// bounded retry.
package notifier

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/gradeq/internal/domain"
)

// maxAttempts bounds the callback retry. In-flight callbacks were observed
// dropping when LMS servers rotate out of the load balancer; a tight retry
// with no backoff rides out those disconnects against a low-latency
// internal target.
const maxAttempts = 5

// Poster is the outbound HTTP dependency, satisfied by delivery.Client.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, timeout time.Duration) (bool, string)
}

type Notifier struct {
	client  Poster
	timeout time.Duration
	log     *zap.Logger
}

func New(client Poster, timeout time.Duration, log *zap.Logger) *Notifier {
	return &Notifier{client: client, timeout: timeout, log: log}
}

// PostGrade sends a grading result to the LMS callback named in the raw
// header. The header passes through verbatim; only lms_callback_url is read
// out of it. Returns whether the LMS acknowledged.
func (n *Notifier) PostGrade(ctx context.Context, rawHeader, body string) bool {
	callbackURL, err := domain.CallbackURL(rawHeader)
	if err != nil {
		n.log.Error("cannot notify LMS", zap.Error(err))
		return false
	}

	payload, err := json.Marshal(domain.CallbackPayload{Header: rawHeader, Body: body})
	if err != nil {
		n.log.Error("marshal callback payload", zap.Error(err))
		return false
	}

	var lastMsg string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, msg := n.client.Post(ctx, callbackURL, payload, n.timeout)
		if ok {
			return true
		}
		lastMsg = msg
	}

	n.log.Error("unable to return result to LMS",
		zap.String("lms_callback_url", callbackURL),
		zap.ByteString("payload", payload),
		zap.String("lms_reply", lastMsg))
	return false
}

// PostFailure tells the LMS (and the student) that the submission could not
// be graded and should be resubmitted.
func (n *Notifier) PostFailure(ctx context.Context, rawHeader string) bool {
	return n.PostGrade(ctx, rawHeader, domain.FailureNotice())
}
