package repository

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
)

const directoryCachePrefix = "directory:"

// cachedDirectoryRepository puts a Redis cache-aside layer in front of point
// lookups. Watch is never cached; every snapshot it yields refreshes the
// cached entries instead.
type cachedDirectoryRepository struct {
	next   repository.DirectoryRepository
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

func NewCachedDirectoryRepository(next repository.DirectoryRepository, client *redis.Client, ttl time.Duration) repository.DirectoryRepository {
	return &cachedDirectoryRepository{
		next:   next,
		client: client,
		ttl:    ttl,
	}
}

func emailKey(email string) string {
	return directoryCachePrefix + "email:" + normalizeEmail(email)
}

func idKey(id string) string {
	return directoryCachePrefix + "id:" + id
}

func (r *cachedDirectoryRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.lookup(ctx, emailKey(email), func() (*entity.User, error) {
		return r.next.FindByEmail(ctx, email)
	})
}

func (r *cachedDirectoryRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return r.lookup(ctx, idKey(id), func() (*entity.User, error) {
		return r.next.FindByID(ctx, id)
	})
}

func (r *cachedDirectoryRepository) lookup(ctx context.Context, key string, load func() (*entity.User, error)) (*entity.User, error) {
	if user, ok := r.get(ctx, key); ok {
		return user, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		user, err := load()
		if err != nil {
			return nil, err
		}
		r.set(ctx, user)
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	copied := *v.(*entity.User)
	return &copied, nil
}

// get treats any Redis failure as a miss so the directory keeps working when
// the cache is down.
func (r *cachedDirectoryRepository) get(ctx context.Context, key string) (*entity.User, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Directory cache get error for %s: %v", key, err)
		}
		return nil, false
	}

	var user entity.User
	if err := json.Unmarshal(data, &user); err != nil {
		log.Printf("Directory cache unmarshal error for %s: %v", key, err)
		return nil, false
	}
	return &user, true
}

func (r *cachedDirectoryRepository) set(ctx context.Context, users ...*entity.User) {
	if len(users) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	for _, user := range users {
		data, err := json.Marshal(user)
		if err != nil {
			log.Printf("Directory cache marshal error for user %s: %v", user.ID, err)
			continue
		}
		pipe.Set(ctx, idKey(user.ID), data, r.ttl)
		if user.Email != "" {
			pipe.Set(ctx, emailKey(user.Email), data, r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Directory cache set error: %v", err)
	}
}

func (r *cachedDirectoryRepository) Watch(ctx context.Context) (repository.DirectoryIterator, error) {
	it, err := r.next.Watch(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedDirectoryIterator{ctx: ctx, repo: r, it: it}, nil
}

type cachedDirectoryIterator struct {
	ctx  context.Context
	repo *cachedDirectoryRepository
	it   repository.DirectoryIterator
}

func (i *cachedDirectoryIterator) Next() (map[string]*entity.User, error) {
	users, err := i.it.Next()
	if err != nil {
		return nil, err
	}

	refresh := make([]*entity.User, 0, len(users))
	for _, user := range users {
		refresh = append(refresh, user)
	}
	i.repo.set(i.ctx, refresh...)
	return users, nil
}

func (i *cachedDirectoryIterator) Stop() {
	i.it.Stop()
}
