package notifier

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/gradeq/internal/domain"
)

type fakePoster struct {
	calls    int
	failThru int // attempts that fail before one succeeds; -1 fails forever
	urls     []string
	bodies   [][]byte
}

func (f *fakePoster) Post(ctx context.Context, url string, body []byte, timeout time.Duration) (bool, string) {
	f.calls++
	f.urls = append(f.urls, url)
	f.bodies = append(f.bodies, body)
	if f.failThru < 0 || f.calls <= f.failThru {
		return false, "cannot connect to server"
	}
	return true, ""
}

const header = `{"lms_callback_url":"http://lms/grade","submission_id":7}`

func TestPostGradeFirstTry(t *testing.T) {
	p := &fakePoster{}
	n := New(p, time.Second, zap.NewNop())

	if !n.PostGrade(context.Background(), header, `{"score":1}`) {
		t.Fatal("want ack")
	}
	if p.calls != 1 {
		t.Fatalf("want 1 attempt, got %d", p.calls)
	}
	if p.urls[0] != "http://lms/grade" {
		t.Fatalf("posted to %q", p.urls[0])
	}

	var payload domain.CallbackPayload
	if err := json.Unmarshal(p.bodies[0], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Header != header {
		t.Fatal("header must pass through verbatim")
	}
	if payload.Body != `{"score":1}` {
		t.Fatalf("body %q", payload.Body)
	}
}

func TestPostGradeRetriesThenSucceeds(t *testing.T) {
	p := &fakePoster{failThru: 2}
	n := New(p, time.Second, zap.NewNop())

	if !n.PostGrade(context.Background(), header, "x") {
		t.Fatal("want ack after retries")
	}
	if p.calls != 3 {
		t.Fatalf("want 3 attempts, got %d", p.calls)
	}
}

func TestPostGradeRetryBound(t *testing.T) {
	p := &fakePoster{failThru: -1}
	n := New(p, time.Second, zap.NewNop())

	if n.PostGrade(context.Background(), header, "x") {
		t.Fatal("want failure")
	}
	if p.calls != 5 {
		t.Fatalf("want exactly 5 attempts, got %d", p.calls)
	}
}

func TestPostGradeRejectsHeaderWithoutCallback(t *testing.T) {
	p := &fakePoster{}
	n := New(p, time.Second, zap.NewNop())

	if n.PostGrade(context.Background(), `{"submission_id":7}`, "x") {
		t.Fatal("want failure")
	}
	if p.calls != 0 {
		t.Fatalf("must not post without a callback, got %d attempts", p.calls)
	}
}

func TestPostFailureSendsNotice(t *testing.T) {
	p := &fakePoster{}
	n := New(p, time.Second, zap.NewNop())

	if !n.PostFailure(context.Background(), header) {
		t.Fatal("want ack")
	}
	var payload domain.CallbackPayload
	if err := json.Unmarshal(p.bodies[0], &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !strings.Contains(payload.Body, "could not be graded") {
		t.Fatalf("unexpected notice %q", payload.Body)
	}
	if !strings.Contains(payload.Body, `"correct":null`) {
		t.Fatalf("notice must carry a null score marker: %q", payload.Body)
	}
}
