package command

import (
	"fmt"
	"reflect"
	"sync"
)

// Container resolves shared dependencies for commands. Implementations decide
// their own thread-safety; Services is safe for concurrent use.
type Container interface {
	Resolve(t reflect.Type) (any, bool)
}

// Resolve looks up a dependency of type T.
func Resolve[T any](c Container) (T, error) {
	var zero T
	if c == nil {
		return zero, fmt.Errorf("no container attached")
	}
	t := reflect.TypeFor[T]()
	v, ok := c.Resolve(t)
	if !ok {
		return zero, fmt.Errorf("no %s registered in container", t)
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container entry for %s has type %T", t, v)
	}
	return out, nil
}

// Services is a minimal type-keyed container.
type Services struct {
	mu      sync.RWMutex
	entries map[reflect.Type]any
}

// NewServices returns an empty container.
func NewServices() *Services {
	return &Services{entries: make(map[reflect.Type]any)}
}

// Provide registers v under the type T, replacing any earlier entry.
func Provide[T any](s *Services, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[reflect.TypeFor[T]()] = v
}

// Resolve implements Container.
func (s *Services) Resolve(t reflect.Type) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[t]
	return v, ok
}
