package utils

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"NOT_FOUND":          NotFound("op", "alert %s", "a1"),
		"VALIDATION_ERROR":   Invalid("op", "bad"),
		"MISSING_COMMENT":    NewAppError("op", "comment required", ErrMissingComment),
		"MISSING_ROOT_CAUSE": fmt.Errorf("wrapped: %w", NewAppError("op", "rca", ErrMissingRootCause)),
		"INVALID_TRANSITION": NewAppError("op", "nope", ErrInvalidTransition),
		"INTERNAL_ERROR":     errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("expected %s, got %s for %v", want, got, err)
		}
	}
	if ErrorCode(nil) != "" {
		t.Fatalf("expected empty code for nil error")
	}
}

func TestMessage(t *testing.T) {
	err := NotFound("alerts.Get", "alert %s not found", "a1")
	if got := Message(err); got != "alert a1 not found" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(errors.New("plain")); got != "plain" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestParseWindow(t *testing.T) {
	cases := map[string]time.Duration{
		"30d": 30 * 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"24h": 24 * time.Hour,
		"90m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseWindow(in)
		if err != nil {
			t.Fatalf("parse %s: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %s: expected %v, got %v", in, want, got)
		}
	}
	for _, bad := range []string{"", "abc", "-3d", "0h"} {
		if _, err := ParseWindow(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFormatAgo(t *testing.T) {
	if got := FormatAgo(30 * 24 * time.Hour); got != "30d ago" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := FormatAgo(0); got != "Now" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := FormatAgo(4 * time.Hour); got != "4h ago" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	locks := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("same")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected lock table to be drained, got %d", locks.Len())
	}
}
