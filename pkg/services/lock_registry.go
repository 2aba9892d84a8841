package services

import (
	"sync"

	"github.com/google/uuid"
)

// datasetLock lets any number of previews run concurrently while full merges
// are exclusive per dataset.
type datasetLock struct {
	mu       sync.Mutex
	merging  bool
	previews int
}

// LockRegistry tracks per-dataset merge locks. A full merge fails fast when
// the dataset is already merging or has previews in flight; previews are
// refused only while a full merge holds the lock.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*datasetLock
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[uuid.UUID]*datasetLock)}
}

func (r *LockRegistry) get(id uuid.UUID) *datasetLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &datasetLock{}
		r.locks[id] = l
	}
	return l
}

// TryAcquireMerge takes the exclusive merge lock, or reports false if a
// merge or preview is already running for the dataset.
func (r *LockRegistry) TryAcquireMerge(id uuid.UUID) bool {
	l := r.get(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.merging || l.previews > 0 {
		return false
	}
	l.merging = true
	return true
}

// ReleaseMerge releases the exclusive merge lock.
func (r *LockRegistry) ReleaseMerge(id uuid.UUID) {
	l := r.get(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.merging = false
}

// TryAcquirePreview registers a preview, or reports false while a full
// merge is running. Multiple previews may run concurrently.
func (r *LockRegistry) TryAcquirePreview(id uuid.UUID) bool {
	l := r.get(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.merging {
		return false
	}
	l.previews++
	return true
}

// ReleasePreview unregisters a preview.
func (r *LockRegistry) ReleasePreview(id uuid.UUID) {
	l := r.get(id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.previews > 0 {
		l.previews--
	}
}

// Forget drops lock state for a deleted dataset.
func (r *LockRegistry) Forget(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, id)
}
