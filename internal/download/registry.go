package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// task is the registry's view of one download. The downloader goroutine
// owns the transfer; everything here is guarded by registry.mu.
type task struct {
	id       string
	path     string
	progress Progress
	cancel   context.CancelFunc
	// cancelRequested distinguishes an explicit Cancel from the request
	// context expiring underneath the transfer.
	cancelRequested bool
	events          chan Progress
}

// registry tracks downloads by handle ID and by normalized target path.
// A path stays claimed while its download runs, so two requests can never
// write the same file concurrently.
type registry struct {
	mu     sync.Mutex
	byID   map[string]*task
	byPath map[string]string
}

func newRegistry() *registry {
	return &registry{
		byID:   make(map[string]*task),
		byPath: make(map[string]string),
	}
}

// register claims the target path and creates a queued task. It fails when
// another in-flight download already owns the path.
func (r *registry) register(path string, cancel context.CancelFunc, eventBuffer int) (*task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, busy := r.byPath[path]; busy {
		return nil, domain.NewError(domain.KindInvalidInput, "download",
			fmt.Sprintf("download %s is already writing %s", id, path))
	}

	t := &task{
		id:     uuid.NewString(),
		path:   path,
		cancel: cancel,
		events: make(chan Progress, eventBuffer),
	}
	t.progress = Progress{ID: t.id, Status: StatusQueued, FilePath: path}
	r.byID[t.id] = t
	r.byPath[path] = t.id
	return t, nil
}

// releasePath frees the task's path claim once the transfer is finished.
// The task itself stays registered so callers can still read its final
// progress until ClearCompleted.
func (r *registry) releasePath(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byPath[t.path] == t.id {
		delete(r.byPath, t.path)
	}
}

// update applies fn to the task's progress under the lock and publishes the
// new snapshot on the task's event channel, dropping it when the consumer
// is behind.
func (r *registry) update(t *task, fn func(p *Progress)) Progress {
	r.mu.Lock()
	fn(&t.progress)
	snapshot := t.progress
	r.mu.Unlock()

	select {
	case t.events <- snapshot:
	default:
	}
	return snapshot
}

// Progress returns the latest snapshot for a handle.
func (r *registry) Progress(id string) (Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return Progress{}, domain.NewError(domain.KindInvalidInput, "download",
			fmt.Sprintf("unknown download id %q", id))
	}
	return t.progress, nil
}

// Cancel requests cancellation of a running download. The transfer observes
// it at the next chunk boundary and keeps the partial file for resumption.
func (r *registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return domain.NewError(domain.KindInvalidInput, "download",
			fmt.Sprintf("unknown download id %q", id))
	}
	if t.progress.Status.Terminal() {
		return domain.NewError(domain.KindInvalidInput, "download",
			fmt.Sprintf("download %s already %s", id, t.progress.Status))
	}
	t.cancelRequested = true
	t.cancel()
	return nil
}

// Active returns snapshots of every download that has not reached a
// terminal state.
func (r *registry) Active() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Progress
	for _, t := range r.byID {
		if !t.progress.Status.Terminal() {
			out = append(out, t.progress)
		}
	}
	return out
}

// ClearCompleted drops every terminal download from the registry and
// returns how many were removed.
func (r *registry) ClearCompleted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.byID {
		if t.progress.Status.Terminal() {
			delete(r.byID, id)
			removed++
		}
	}
	return removed
}

func (r *registry) wasCancelled(t *task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.cancelRequested
}
