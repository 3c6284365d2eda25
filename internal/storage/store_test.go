package storage

import (
	"strings"
	"testing"

	"github.com/SirClappington/gradeq/internal/domain"
)

func TestLeaseSQLParameterizesField(t *testing.T) {
	push := leaseSQL(domain.Push)
	for _, want := range []string{
		"push_time is null or push_time <=",
		"push_time = $2, grader_id = $4",
		"retired = false",
		"order by arrival_time, id",
		"for update skip locked",
	} {
		if !strings.Contains(push, want) {
			t.Fatalf("push query missing %q:\n%s", want, push)
		}
	}

	pull := leaseSQL(domain.Pull)
	if !strings.Contains(pull, "pull_time is null or pull_time <=") {
		t.Fatalf("pull query filters wrong column:\n%s", pull)
	}
	if !strings.Contains(pull, "pull_time = $2, pullkey = $4") {
		t.Fatalf("pull query stamps wrong columns:\n%s", pull)
	}
	if strings.Contains(pull, "push_time") {
		t.Fatal("pull query must not touch push_time")
	}
}

func TestLeaseSQLRejectsUnknownField(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want panic")
		}
	}()
	leaseSQL(domain.LeaseField("return_time"))
}
