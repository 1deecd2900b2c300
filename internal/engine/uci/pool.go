package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

type PoolConfig struct {
	BinaryPath string
	// PerTierCapacity caps live processes per distinct option set.
	PerTierCapacity int
}

// Pool keeps warm engine processes grouped by option set, so switching
// strength tiers never pays reconfiguration cost on a live session.
type Pool struct {
	binaryPath string
	capacity   int

	mu       sync.Mutex
	buckets  map[string]*bucket
	borrowed map[*Session]*bucket
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}

	capacity := cfg.PerTierCapacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		capacity:   capacity,
		buckets:    make(map[string]*bucket),
		borrowed:   make(map[*Session]*bucket),
	}, nil
}

// Acquire hands out a ready session for the option set, starting a new
// process while the bucket has headroom and otherwise waiting for a
// return or the context.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	b := p.bucket(opt)

	for {
		select {
		case s := <-b.idle:
			if err := s.EnsureReady(ctx); err != nil {
				b.drop(s)
				continue
			}
			p.lend(s, b)
			return s, nil
		default:
		}

		s, err := b.spawn(ctx)
		if err == nil {
			p.lend(s, b)
			return s, nil
		}
		if !errors.Is(err, errAtCapacity) {
			return nil, err
		}

		select {
		case s := <-b.idle:
			if err := s.EnsureReady(ctx); err != nil {
				b.drop(s)
				continue
			}
			p.lend(s, b)
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a session to its bucket. A non-nil err marks the
// process suspect and it is killed instead of reused.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}

	p.mu.Lock()
	b, ok := p.borrowed[s]
	if ok {
		delete(p.borrowed, s)
	}
	p.mu.Unlock()

	if !ok {
		_ = s.Close()
		return
	}
	if err != nil {
		b.drop(s)
		return
	}
	if !b.put(s) {
		b.drop(s)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.borrowed = make(map[*Session]*bucket)
	p.mu.Unlock()

	var errs []error
	for _, b := range buckets {
		for {
			select {
			case s := <-b.idle:
				if err := s.Close(); err != nil {
					errs = append(errs, err)
				}
				b.decrement()
			default:
				goto next
			}
		}
	next:
	}
	return errors.Join(errs...)
}

func (p *Pool) lend(s *Session, b *bucket) {
	p.mu.Lock()
	p.borrowed[s] = b
	p.mu.Unlock()
}

func (p *Pool) bucket(opt Options) *bucket {
	key := optionsKey(opt)
	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		b = newBucket(p.binaryPath, opt, p.capacity)
		p.buckets[key] = b
	}
	p.mu.Unlock()
	return b
}

var errAtCapacity = errors.New("engine bucket at capacity")

type bucket struct {
	binaryPath string
	opt        Options
	capacity   int

	mu    sync.Mutex
	total int
	idle  chan *Session
}

func newBucket(binaryPath string, opt Options, capacity int) *bucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &bucket{
		binaryPath: binaryPath,
		opt:        opt,
		capacity:   capacity,
		idle:       make(chan *Session, capacity),
	}
}

func (b *bucket) spawn(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errAtCapacity
	}
	b.total++
	b.mu.Unlock()

	s, err := NewSession(ctx, b.binaryPath, b.opt)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return s, nil
}

func (b *bucket) put(s *Session) bool {
	select {
	case b.idle <- s:
		return true
	default:
		return false
	}
}

func (b *bucket) drop(s *Session) {
	if s != nil {
		_ = s.Close()
	}
	b.decrement()
}

func (b *bucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}

func optionsKey(opt Options) string {
	return fmt.Sprintf("thr=%d|skill=%d|hash=%d|elo=%d",
		opt.Threads, opt.SkillLevel, opt.HashMB, opt.Elo)
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
