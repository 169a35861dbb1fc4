package browse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/epalmerini/msgscope/internal/paging"
)

func fastRetry() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetryPolicy_Delays(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second}
	for i, w := range want {
		if got := p.NextDelay(i + 1); got != w {
			t.Errorf("NextDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "transient", err: errors.New("connection refused"), attempt: 1, want: true},
		{name: "last attempt", err: errors.New("connection refused"), attempt: 3, want: false},
		{name: "nil", err: nil, attempt: 1, want: false},
		{name: "permission", err: &PermissionError{Principal: "app"}, attempt: 1, want: false},
		{name: "wrapped permission", err: fmt.Errorf("connect: %w", &PermissionError{Principal: "app"}), attempt: 1, want: false},
		{name: "invalid state", err: &InvalidStateError{Actual: StateClosed}, attempt: 1, want: false},
		{name: "paging loop", err: &paging.PagingLoopError{Cursor: "x"}, attempt: 1, want: false},
		{name: "cancelled", err: context.Canceled, attempt: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.err, tt.attempt); got != tt.want {
				t.Errorf("ShouldRetry(%v, %d) = %v, want %v", tt.err, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_ExecuteRecovers(t *testing.T) {
	calls := 0
	err := fastRetry().Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_ExecuteGivesUp(t *testing.T) {
	calls := 0
	err := fastRetry().Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error after all attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_ExecutePermissionFailsFast(t *testing.T) {
	calls := 0
	err := fastRetry().Execute(context.Background(), func(context.Context) error {
		calls++
		return &PermissionError{Principal: "app", Operation: "browse queue"}
	})
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("err = %v, want PermissionError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_ExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}

	calls := 0
	err := p.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection reset")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
