// Package audit records administrative and authentication activity.
// Emission is best-effort: a storage failure is logged and counted but
// never surfaces to the operation that triggered it.
package audit

import (
	"context"
	"time"

	"stordesk.io/internal/access"
	"stordesk.io/internal/ids"
	"stordesk.io/internal/obs"
)

// Event statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Event is one audit record. Details carries operation-specific context
// (changed fields, target names) and must never contain secrets.
type Event struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	UserID       string            `json:"user_id,omitempty"`
	Username     string            `json:"username,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	SourceIP     string            `json:"source_ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Status       string            `json:"status"`
}

// Filter narrows a trail query. Zero values mean "no constraint".
type Filter struct {
	Start        time.Time
	End          time.Time
	UserID       string
	Action       string
	ResourceType string
	Status       string
}

// Recorder persists and queries events.
type Recorder interface {
	Append(ctx context.Context, ev *Event) error
	List(ctx context.Context, f Filter, page access.Page) ([]Event, int, error)
}

// Emitter wraps a Recorder with best-effort semantics and field stamping.
type Emitter struct {
	recorder Recorder
	now      func() time.Time
}

// NewEmitter builds an Emitter over the given recorder.
func NewEmitter(recorder Recorder) *Emitter {
	return &Emitter{recorder: recorder, now: time.Now}
}

// Emit stamps id and timestamp and appends the event. Failures are
// swallowed after logging and incrementing the failure counter; callers
// must not branch on the outcome.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.recorder == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	if ev.Status == "" {
		ev.Status = StatusSuccess
	}
	if err := e.recorder.Append(ctx, &ev); err != nil {
		obs.CountAuditWriteFailure()
		obs.LogEntry(map[string]any{
			"level":  "error",
			"msg":    "audit append failed",
			"action": ev.Action,
			"error":  err.Error(),
		})
	}
}

// List queries the trail through the underlying recorder.
func (e *Emitter) List(ctx context.Context, f Filter, page access.Page) ([]Event, int, error) {
	return e.recorder.List(ctx, f, page)
}
