// Package capture guards acquisition of live device resources that may be
// restarted or torn down before an open completes.
package capture

import (
	"context"
	"errors"
	"sync"
)

var ErrStaleStart = errors.New("capture start superseded")

// Resource is a live handle such as a camera stream or a feed subscription.
type Resource interface {
	Close() error
}

// ResourceFunc adapts a release function to Resource.
type ResourceFunc func()

func (f ResourceFunc) Close() error {
	f()
	return nil
}

type Opener func(ctx context.Context) (Resource, error)

// Sequencer hands out a monotonically increasing start token per open
// attempt. Only the open holding the newest token may attach its resource.
type Sequencer struct {
	mu      sync.Mutex
	token   uint64
	current Resource
}

// Token returns the latest issued start token.
func (s *Sequencer) Token() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Open runs opener under a fresh token. A result that arrives after a newer
// Open or a Close is released and ErrStaleStart is returned. A successful
// open replaces and releases the previously attached resource.
func (s *Sequencer) Open(ctx context.Context, opener Opener) (Resource, uint64, error) {
	s.mu.Lock()
	s.token++
	token := s.token
	s.mu.Unlock()

	res, err := opener(ctx)
	if err != nil {
		return nil, token, err
	}

	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		_ = res.Close()
		return nil, token, ErrStaleStart
	}
	prev := s.current
	s.current = res
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return res, token, nil
}

// Release detaches and closes the resource opened under token, if it is
// still the current one.
func (s *Sequencer) Release(token uint64) {
	s.mu.Lock()
	if token != s.token || s.current == nil {
		s.mu.Unlock()
		return
	}
	res := s.current
	s.current = nil
	s.mu.Unlock()
	_ = res.Close()
}

// Close invalidates in-flight opens and releases the current resource.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	s.token++
	res := s.current
	s.current = nil
	s.mu.Unlock()
	if res == nil {
		return nil
	}
	return res.Close()
}
