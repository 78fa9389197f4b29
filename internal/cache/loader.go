package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader memoizes a fetch function for the lifetime of one request.
// Concurrent loads of the same key share a single call; successful results
// are kept until the Loader is dropped, errors are not.
type Loader[T any] struct {
	fetch func(ctx context.Context, key string) (T, error)
	group singleflight.Group

	mu   sync.Mutex
	done map[string]T
}

func NewLoader[T any](fetch func(ctx context.Context, key string) (T, error)) *Loader[T] {
	return &Loader[T]{fetch: fetch, done: map[string]T{}}
}

func (l *Loader[T]) Load(ctx context.Context, key string) (T, error) {
	l.mu.Lock()
	if v, ok := l.done[key]; ok {
		l.mu.Unlock()
		return v, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		l.mu.Lock()
		if v, ok := l.done[key]; ok {
			l.mu.Unlock()
			return v, nil
		}
		l.mu.Unlock()

		v, err := l.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.done[key] = v
		l.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
