package notify

import (
	"context"
	"sync"
)

// Recorder is an in-memory Notifier that keeps every notice. Tests use it
// to assert on what the engine sent.
type Recorder struct {
	mu sync.Mutex
	// Fail makes every delivery fail with the given error.
	Fail error
	// FailPrincipal makes only principal deliveries fail.
	FailPrincipal error

	principal []Notice
	admin     []Notice
}

func (r *Recorder) Notify(_ context.Context, principalID int64, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if r.FailPrincipal != nil {
		return r.FailPrincipal
	}
	n.PrincipalID = principalID
	r.principal = append(r.principal, n)
	return nil
}

func (r *Recorder) NotifyAdmin(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.admin = append(r.admin, n)
	return nil
}

// Principal returns the notices delivered to principals, optionally only
// those of the given kinds.
func (r *Recorder) Principal(kinds ...Kind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filter(r.principal, kinds)
}

// Admin returns the notices delivered to the reviewer, optionally only those
// of the given kinds.
func (r *Recorder) Admin(kinds ...Kind) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filter(r.admin, kinds)
}

func filter(ns []Notice, kinds []Kind) []Notice {
	out := make([]Notice, 0, len(ns))
	for _, n := range ns {
		if len(kinds) == 0 {
			out = append(out, n)
			continue
		}
		for _, k := range kinds {
			if n.Kind == k {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
