package repository

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/errors"
)

// MemoryDirectoryRepository is an in-process user directory. Put is exported so
// development servers and tests can seed profiles.
type MemoryDirectoryRepository struct {
	mu       sync.Mutex
	users    map[string]*entity.User
	watchers map[*memoryWatch]struct{}
}

func NewMemoryDirectoryRepository(users ...*entity.User) *MemoryDirectoryRepository {
	r := &MemoryDirectoryRepository{
		users:    make(map[string]*entity.User),
		watchers: make(map[*memoryWatch]struct{}),
	}
	for _, u := range users {
		r.Put(u)
	}
	return r
}

// Put inserts or replaces a user and notifies live watchers.
func (r *MemoryDirectoryRepository) Put(user *entity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *user
	r.users[user.ID] = &copied
	for w := range r.watchers {
		w.signal()
	}
}

func (r *MemoryDirectoryRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	normalized := normalizeEmail(email)
	for _, u := range r.users {
		if normalizeEmail(u.Email) == normalized {
			copied := *u
			return &copied, nil
		}
	}
	return nil, errors.NotFound("User", nil)
}

func (r *MemoryDirectoryRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	copied := *u
	return &copied, nil
}

func (r *MemoryDirectoryRepository) Watch(ctx context.Context) (repository.DirectoryIterator, error) {
	w := &memoryWatch{
		ctx:     ctx,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.release = func() {
		r.mu.Lock()
		delete(r.watchers, w)
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.watchers[w] = struct{}{}
	r.mu.Unlock()

	return &memoryDirectoryIterator{repo: r, watch: w}, nil
}

func (r *MemoryDirectoryRepository) snapshot() map[string]*entity.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*entity.User, len(r.users))
	for id, u := range r.users {
		copied := *u
		out[id] = &copied
	}
	return out
}

type memoryDirectoryIterator struct {
	repo  *MemoryDirectoryRepository
	watch *memoryWatch
	last  map[string]*entity.User
	sent  bool
}

func (it *memoryDirectoryIterator) Next() (map[string]*entity.User, error) {
	for {
		if err := it.watch.wait(); err != nil {
			return nil, err
		}
		snapshot := it.repo.snapshot()
		if it.sent && reflect.DeepEqual(snapshot, it.last) {
			continue
		}
		it.last, it.sent = snapshot, true
		return it.repo.snapshot(), nil
	}
}

func (it *memoryDirectoryIterator) Stop() {
	it.watch.stop()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
