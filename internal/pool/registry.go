package pool

import (
	"sort"
	"sync"

	"mjgate/internal/model"
)

// Registry is the per-instance index of currently running tasks. It holds
// active tasks only; finalization evicts the task after its terminal state
// has been persisted. The correlation engine searches nothing else.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*model.Task)}
}

// Add indexes a task by id.
func (r *Registry) Add(t *model.Task) {
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
}

// Remove evicts a task.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

// Get returns the running task with the given id, or nil.
func (r *Registry) Get(id string) *model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[id]
}

// Len returns the number of running tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Find returns tasks matching pred, ordered by submit time ascending with
// id as tie-break so correlation lookups are deterministic.
func (r *Registry) Find(pred func(*model.Task) bool) []*model.Task {
	r.mu.RLock()
	out := make([]*model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if pred(t) {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmitTime != out[j].SubmitTime {
			return out[i].SubmitTime < out[j].SubmitTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// All returns every running task.
func (r *Registry) All() []*model.Task {
	return r.Find(func(*model.Task) bool { return true })
}
