package command

import "context"

// Invocation is one hydrated command on its way to execution.
type Invocation struct {
	Name     string
	Args     []string
	Command  Command
	Identity string
	ConnID   string
}

// Handler executes an invocation.
type Handler func(ctx context.Context, inv *Invocation) (string, error)

// Middleware wraps a handler with before/after/on-error behaviour.
type Middleware func(next Handler) Handler

func execute(ctx context.Context, inv *Invocation) (string, error) {
	return inv.Command.Execute(ctx)
}

// chain applies mws so that mws[0] is outermost.
func chain(h Handler, mws []Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
