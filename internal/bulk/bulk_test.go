package bulk

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/epalmerini/msgscope/internal/message"
	"go.uber.org/zap/zaptest"
)

type call struct {
	op    string
	queue string
	id    string
}

type mockActions struct {
	calls   []call
	failOn  int // 1-based call number that fails, 0 for never
	onCall  func(n int)
	failErr error
}

func (m *mockActions) record(c call) error {
	m.calls = append(m.calls, c)
	if m.onCall != nil {
		m.onCall(len(m.calls))
	}
	if m.failOn > 0 && len(m.calls) == m.failOn {
		return m.failErr
	}
	return nil
}

func (m *mockActions) CopyMsg(_ context.Context, _, from, to, id string) error {
	return m.record(call{op: "copy", queue: from + ">" + to, id: id})
}

func (m *mockActions) DeleteMsg(_ context.Context, _, queue string, msgID int64) error {
	return m.record(call{op: "delete", queue: queue, id: fmt.Sprint(msgID)})
}

func records(n int) []message.Record {
	out := make([]message.Record, n)
	for i := range out {
		id := int64(i + 1)
		out[i] = message.Record{
			Key:  fmt.Sprintf("rg-%d", id),
			Meta: &message.Meta{MsgID: id, ReplicationGroupMsgID: fmt.Sprintf("rg-%d", id)},
		}
	}
	return out
}

func TestRunner_Operations(t *testing.T) {
	tests := []struct {
		name      string
		run       func(r *Runner) (Report, error)
		wantCalls []call
	}{
		{
			name: "copy",
			run: func(r *Runner) (Report, error) {
				return r.Copy(context.Background(), "default", records(2), "a", "b")
			},
			wantCalls: []call{{"copy", "a>b", "rg-1"}, {"copy", "a>b", "rg-2"}},
		},
		{
			name: "move",
			run: func(r *Runner) (Report, error) {
				return r.Move(context.Background(), "default", records(2), "a", "b")
			},
			wantCalls: []call{
				{"copy", "a>b", "rg-1"}, {"delete", "a", "1"},
				{"copy", "a>b", "rg-2"}, {"delete", "a", "2"},
			},
		},
		{
			name: "delete",
			run: func(r *Runner) (Report, error) {
				return r.Delete(context.Background(), "default", records(2), "a")
			},
			wantCalls: []call{{"delete", "a", "1"}, {"delete", "a", "2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockActions{}
			rep, err := tt.run(&Runner{Actions: m, Logger: zaptest.NewLogger(t)})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if rep.Requested != 2 || rep.Completed != 2 || rep.Aborted {
				t.Errorf("report = %+v, want 2/2 not aborted", rep)
			}
			if rep.ID == "" {
				t.Error("report has no operation id")
			}
			if len(m.calls) != len(tt.wantCalls) {
				t.Fatalf("calls = %v, want %v", m.calls, tt.wantCalls)
			}
			for i := range tt.wantCalls {
				if m.calls[i] != tt.wantCalls[i] {
					t.Errorf("call %d = %v, want %v", i, m.calls[i], tt.wantCalls[i])
				}
			}
		})
	}
}

func TestRunner_AbortStopsPromptly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &mockActions{onCall: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	r := &Runner{Actions: m, Logger: zaptest.NewLogger(t)}

	rep, err := r.Delete(ctx, "default", records(10), "a")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !rep.Aborted {
		t.Error("report not marked aborted")
	}
	if rep.Completed != 3 || len(m.calls) != 3 {
		t.Errorf("completed = %d, calls = %d, want 3 and 3", rep.Completed, len(m.calls))
	}
}

func TestRunner_FailureReportsProgress(t *testing.T) {
	boom := errors.New("queue full")
	m := &mockActions{failOn: 2, failErr: boom}
	r := &Runner{Actions: m}

	rep, err := r.Copy(context.Background(), "default", records(5), "a", "b")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if rep.Completed != 1 || rep.Aborted {
		t.Errorf("report = %+v, want 1 completed, not aborted", rep)
	}
}

func TestRunner_MissingIDs(t *testing.T) {
	r := &Runner{Actions: &mockActions{}}
	recs := []message.Record{{Key: "unmatched-1"}}

	if _, err := r.Copy(context.Background(), "default", recs, "a", "b"); !errors.Is(err, ErrMissingID) {
		t.Errorf("Copy err = %v, want ErrMissingID", err)
	}
	if _, err := r.Delete(context.Background(), "default", recs, "a"); !errors.Is(err, ErrMissingID) {
		t.Errorf("Delete err = %v, want ErrMissingID", err)
	}
}
