package audit

import (
	"context"
	"sort"
	"sync"

	"stordesk.io/internal/access"
)

// MemoryRecorder keeps events in process memory. For tests and
// single-instance trials; the trail does not survive restarts.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder builds an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Append implements Recorder.
func (r *MemoryRecorder) Append(_ context.Context, ev *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

// List implements Recorder. Results are newest first.
func (r *MemoryRecorder) List(_ context.Context, f Filter, page access.Page) ([]Event, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Event
	for _, ev := range r.events {
		if !f.Start.IsZero() && ev.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && ev.Timestamp.After(f.End) {
			continue
		}
		if f.UserID != "" && ev.UserID != f.UserID {
			continue
		}
		if f.Action != "" && ev.Action != f.Action {
			continue
		}
		if f.ResourceType != "" && ev.ResourceType != f.ResourceType {
			continue
		}
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		matched = append(matched, ev)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	page = page.Clamp()
	offset := page.Offset()
	if offset >= total {
		return nil, total, nil
	}
	end := offset + page.Size
	if end > total {
		end = total
	}
	out := make([]Event, end-offset)
	copy(out, matched[offset:end])
	return out, total, nil
}
