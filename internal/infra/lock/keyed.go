// Package lock реализует взаимное исключение по ключу.
package lock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Keyed — блокировка по ключу внутри одного процесса.
// Разные ключи не блокируют друг друга; записи удаляются, когда ключ никому не нужен.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed создаёт блокировку.
func NewKeyed() *Keyed {
	return &Keyed{entries: map[string]*entry{}}
}

// Lock ждёт освобождения ключа или отмены ctx.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *Keyed) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Size возвращает число ключей, за которые кто-то держится или ждёт.
func (k *Keyed) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
