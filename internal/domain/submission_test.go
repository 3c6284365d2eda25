package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCallbackURL(t *testing.T) {
	url, err := CallbackURL(`{"lms_callback_url":"http://lms/grade","submission_id":42}`)
	if err != nil {
		t.Fatalf("callback url: %v", err)
	}
	if url != "http://lms/grade" {
		t.Fatalf("got %q", url)
	}
}

func TestCallbackURLRejectsBadHeaders(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"other":"x"}`, `{"lms_callback_url":""}`} {
		if _, err := CallbackURL(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestFailureNotice(t *testing.T) {
	var notice struct {
		Correct *bool  `json:"correct"`
		Score   int    `json:"score"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal([]byte(FailureNotice()), &notice); err != nil {
		t.Fatalf("notice is not JSON: %v", err)
	}
	if notice.Correct != nil {
		t.Fatalf("correct should be null")
	}
	if notice.Score != 0 {
		t.Fatalf("score should be 0, got %d", notice.Score)
	}
	if !strings.Contains(notice.Msg, "could not be graded") {
		t.Fatalf("unexpected msg %q", notice.Msg)
	}
}
