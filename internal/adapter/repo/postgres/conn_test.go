package postgres

import (
	"context"
	"strings"
	"testing"
)

func TestNewPool_BadDSN(t *testing.T) {
	t.Parallel()

	// Both fail at config parse, before any connection attempt.
	for _, dsn := range []string{"://bad", "postgres://%zz"} {
		_, err := NewPool(context.Background(), dsn)
		if err == nil {
			t.Fatalf("NewPool(%q): expected parse error", dsn)
		}
		if !strings.Contains(err.Error(), "op=postgres.parse") {
			t.Fatalf("NewPool(%q): error %v not from parse step", dsn, err)
		}
	}
}
