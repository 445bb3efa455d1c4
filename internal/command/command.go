// Package command holds the command model: descriptors, the build-once registry,
// and the hydrator that turns a flat token list into a typed command instance.
//
// Commands are plain structs. A Descriptor names the command, lists its options
// and the struct fields they bind to, and supplies a factory for fresh instances.
// The registry is assembled from an explicit catalog at startup and is read-only
// afterwards, so it is shared between workers without locking.
package command

import (
	"context"
	"reflect"
	"strings"
)

// Command is one invocable unit of work producing a single text result.
type Command interface {
	Execute(ctx context.Context) (string, error)
}

// Injectable commands receive the dependency container before execution.
type Injectable interface {
	SetContainer(c Container)
}

// Base can be embedded by commands that need the container.
type Base struct {
	container Container
}

// SetContainer implements Injectable.
func (b *Base) SetContainer(c Container) { b.container = c }

// Container returns the injected container, or nil.
func (b *Base) Container() Container { return b.container }

// Descriptor is the static metadata for one command.
type Descriptor struct {
	// Name is optional; when empty it is derived from the factory's type name
	// with the "Command" suffix stripped.
	Name        string
	Description string
	Options     []OptionSpec
	New         func() Command
	// Middleware wraps only this command, inside any registry-wide middleware.
	Middleware []Middleware
}

const typeSuffix = "Command"

// DeriveName strips the "Command" suffix from the concrete type name of c.
func DeriveName(c Command) string {
	t := reflect.TypeOf(c)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if len(name) > len(typeSuffix) && strings.HasSuffix(name, typeSuffix) {
		name = strings.TrimSuffix(name, typeSuffix)
	}
	return strings.ToLower(name)
}

// Entry is a registered descriptor with its resolved option bindings.
type Entry struct {
	name        string
	description string
	factory     func() Command
	bindings    []binding
	handler     Handler
}

// Name returns the canonical command name.
func (e *Entry) Name() string { return e.name }

// Description returns the one-line help text.
func (e *Entry) Description() string { return e.description }

// Options returns a copy of the declared options in declaration order.
func (e *Entry) Options() []OptionInfo {
	out := make([]OptionInfo, 0, len(e.bindings))
	for _, b := range e.bindings {
		out = append(out, OptionInfo{OptionSpec: b.spec, Domain: b.Domain()})
	}
	return out
}

// Handler returns the middleware-wrapped execution chain for this command.
func (e *Entry) Handler() Handler { return e.handler }

// OptionInfo is an option plus a human description of its accepted values.
type OptionInfo struct {
	OptionSpec
	Domain string
}
