package gitbind

import (
	"errors"
	"io"
	"slices"
	"sync"
)

// Owner adopts wrappers so that their lifetime can follow an external object
// tree: when the owner is torn down it closes everything it adopted.
type Owner interface {
	Adopt(c io.Closer)
}

// Scope is an Owner that closes its children in reverse adoption order.
// The zero value is ready to use.
type Scope struct {
	mu       sync.Mutex
	children []io.Closer
	closed   bool
}

// Adopt implements Owner. Adopting into a closed Scope closes c immediately.
func (s *Scope) Adopt(c io.Closer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.Close()
		return
	}
	s.children = append(s.children, c)
	s.mu.Unlock()
}

// Len returns the number of adopted children.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Close closes every adopted child and joins their errors. Closing a Scope
// twice is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	children := s.children
	s.children = nil
	s.mu.Unlock()

	var errs []error
	for _, c := range slices.Backward(children) {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
