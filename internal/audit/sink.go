// Package audit records a best-effort history of completed sessions to
// Redis, for after-the-fact inspection of what ran on the daemon and how
// it exited. It is entirely optional: a Sink is only created when the
// daemon is started with an audit Redis address, and a failure to record
// an entry is logged and otherwise ignored — it must never affect a
// session's own lifecycle.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	historyKey = "ice9:audit:history"
	historyCap = 1000
)

// Record is one completed session's audit trail.
type Record struct {
	ID         string    `json:"id"`
	ConnID     int64     `json:"conn_id"`
	RemoteAddr string    `json:"remote_addr"`
	AppPath    string    `json:"app_path"`
	CmdLine    string    `json:"cmd_line"`
	WorkDir    string    `json:"work_dir"`
	Pid        int       `json:"pid"`
	ExitCode   *int32    `json:"exit_code,omitempty"`
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Sink writes completed-session Records to Redis.
type Sink struct {
	client *client
	log    *zap.Logger
}

// NewSink connects a Sink to the Redis instance at addr.
func NewSink(addr string, log *zap.Logger) *Sink {
	log = log.Named("audit")
	return &Sink{client: newClient(addr, log), log: log}
}

// Close releases the underlying Redis connection.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Record appends rec to the audit history, trimming the history to
// historyCap entries. Failures are logged, not returned: a broken audit
// sink must never be allowed to affect session teardown.
func (s *Sink) Record(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("encode audit record failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, historyKey, payload)
	pipe.LTrim(ctx, historyKey, 0, historyCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("record audit entry failed", zap.Int64("conn_id", rec.ConnID), zap.Error(err))
		return
	}
}

// Recent returns up to n of the most recently recorded audit entries,
// newest first.
func (s *Sink) Recent(n int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := s.client.LRange(ctx, historyKey, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}

	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
