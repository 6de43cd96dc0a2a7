package dialog

import (
	"context"
	"time"
)

// followUp is a delayed thread action (archive or delete) scheduled on close.
type followUp struct {
	timer *time.Timer
	run   func(ctx context.Context)
}

// scheduleLocked arms fn to run on thread after the grace delay, replacing
// any follow-up already pending for that thread.
func (r *Registry) scheduleLocked(thread string, fn func(ctx context.Context)) {
	if thread == "" {
		return
	}
	r.cancelLocked(thread)
	f := &followUp{run: fn}
	f.timer = time.AfterFunc(r.grace, func() { r.fire(thread, f) })
	r.followUps[thread] = f
}

// cancelLocked stops the follow-up pending for thread, if any.
func (r *Registry) cancelLocked(thread string) bool {
	f, ok := r.followUps[thread]
	if !ok {
		return false
	}
	f.timer.Stop()
	delete(r.followUps, thread)
	return true
}

// fire runs f under the registry lock unless it was cancelled or replaced
// after its timer expired.
func (r *Registry) fire(thread string, f *followUp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.followUps[thread] != f {
		return
	}
	delete(r.followUps, thread)
	f.run(context.Background())
}

// PendingFollowUp reports whether an archive or delete is scheduled for thread.
func (r *Registry) PendingFollowUp(thread string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.followUps[thread]
	return ok
}

// RunFollowUps runs every pending follow-up now instead of waiting for its
// timer. The daemon calls it on shutdown so no thread is left half-closed.
func (r *Registry) RunFollowUps(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for thread, f := range r.followUps {
		f.timer.Stop()
		delete(r.followUps, thread)
		f.run(ctx)
		n++
	}
	return n
}

// Shutdown cancels every pending follow-up without running it.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for thread := range r.followUps {
		r.cancelLocked(thread)
	}
}
