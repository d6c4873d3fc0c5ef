package db

import (
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestUniqueViolation(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("insert failed: %w", &mysql.MySQLError{
		Number:  1062,
		Message: "Duplicate entry 'abc' for key 'contest_submissions.uk_submission'",
	})
	key, ok := UniqueViolation(err)
	if !ok {
		t.Fatalf("expected unique violation")
	}
	if key != "contest_submissions.uk_submission" {
		t.Fatalf("unexpected key %q", key)
	}

	if _, ok := UniqueViolation(&mysql.MySQLError{Number: 1213}); ok {
		t.Fatalf("deadlock must not be reported as unique violation")
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	cases := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for n, want := range cases {
		if got := Placeholders(n); got != want {
			t.Fatalf("Placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
