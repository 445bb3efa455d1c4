package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/log"
)

// DefaultCommand runs when a request carries no tokens.
const DefaultCommand = "help"

// Meta describes where a request came from. It is recorded, never checked.
type Meta struct {
	Transport string
	Identity  string
	ConnID    string
}

// Result is the outcome of one dispatched request.
type Result struct {
	Text    string
	OK      bool
	Command string
	Err     error
}

// Dispatcher resolves, hydrates and executes commands.
type Dispatcher struct {
	registry  *command.Registry
	container command.Container
	events    events.Publisher
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEvents publishes command.executed for every dispatched request.
func WithEvents(p events.Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher over a built registry. container may be nil.
func New(reg *command.Registry, container command.Container, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  reg,
		container: container,
		logger:    log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs args and returns the text result. It never fails.
func (d *Dispatcher) Execute(ctx context.Context, args []string, meta Meta) string {
	return d.ExecuteResult(ctx, args, meta).Text
}

// ExecuteResult is Execute with the status kept for transports that carry one.
func (d *Dispatcher) ExecuteResult(ctx context.Context, args []string, meta Meta) (res Result) {
	if len(args) == 0 {
		args = []string{DefaultCommand}
	}
	start := time.Now()
	res.Command = args[0]

	logger := d.logger.With("command", args[0])
	if meta.ConnID != "" {
		logger = logger.With("conn_id", meta.ConnID)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("command panicked", "panic", r)
			res = Result{
				Text:    fmt.Sprintf("Command %s failed: %v", res.Command, r),
				Command: res.Command,
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
		if d.events != nil {
			d.events.Publish(events.TypeCommandExecuted, events.CommandData{
				ConnID:     meta.ConnID,
				Transport:  meta.Transport,
				Identity:   meta.Identity,
				Command:    res.Command,
				OK:         res.OK,
				DurationMS: time.Since(start).Milliseconds(),
			})
		}
	}()

	entry, ok := d.registry.Lookup(args[0])
	if !ok {
		err := &command.NotFoundError{Name: args[0]}
		logger.Debug("command not found")
		return Result{Text: err.Error(), Command: args[0], Err: err}
	}
	res.Command = entry.Name()

	cmd, err := entry.Hydrate(args[1:])
	if err != nil {
		logger.Debug("hydration failed", "error", err)
		return Result{Text: err.Error(), Command: entry.Name(), Err: err}
	}
	if inj, ok := cmd.(command.Injectable); ok && d.container != nil {
		inj.SetContainer(d.container)
	}

	inv := &command.Invocation{
		Name:     entry.Name(),
		Args:     args[1:],
		Command:  cmd,
		Identity: meta.Identity,
		ConnID:   meta.ConnID,
	}
	text, err := entry.Handler()(ctx, inv)
	if err != nil {
		logger.Info("command failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return Result{Text: err.Error(), Command: entry.Name(), Err: err}
	}
	logger.Debug("command executed", "duration_ms", time.Since(start).Milliseconds())
	return Result{Text: text, OK: true, Command: entry.Name()}
}
