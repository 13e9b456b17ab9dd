package workflow

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultLockShards is the shard count used when none is configured.
const DefaultLockShards = 64

// LockPool serializes work on individual keys without a global lock.
// Keys hash to a shard; each shard tracks the keys currently held or
// awaited, and drops a key's entry once nobody references it.
type LockPool struct {
	shards []lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a one-slot semaphore. refs counts holders plus waiters.
type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLockPool returns a pool with n shards (DefaultLockShards if n < 1).
func NewLockPool(n int) *LockPool {
	if n < 1 {
		n = DefaultLockShards
	}
	p := &LockPool{shards: make([]lockShard, n)}
	for i := range p.shards {
		p.shards[i].locks = make(map[string]*keyLock)
	}
	return p
}

func (p *LockPool) shard(key string) *lockShard {
	return &p.shards[xxhash.Sum64String(key)%uint64(len(p.shards))]
}

func (s *lockShard) ref(key string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *lockShard) unref(key string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// TryLock acquires key without waiting. The returned func releases it.
func (p *LockPool) TryLock(key string) (unlock func(), ok bool) {
	s := p.shard(key)
	l := s.ref(key)
	select {
	case l.sem <- struct{}{}:
		return p.releaser(s, key, l), true
	default:
		s.unref(key, l)
		return nil, false
	}
}

// Lock waits for key until ctx is done.
func (p *LockPool) Lock(ctx context.Context, key string) (unlock func(), err error) {
	s := p.shard(key)
	l := s.ref(key)
	select {
	case l.sem <- struct{}{}:
		return p.releaser(s, key, l), nil
	case <-ctx.Done():
		s.unref(key, l)
		return nil, ctx.Err()
	}
}

func (p *LockPool) releaser(s *lockShard, key string, l *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.unref(key, l)
		})
	}
}

// Held returns how many keys are currently locked or awaited.
func (p *LockPool) Held() int {
	n := 0
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
