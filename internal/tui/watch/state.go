package watch

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mattjoyce/relay/internal/events"
)

// ConnState is one connection seen on the event stream.
type ConnState struct {
	ID       string
	Remote   string
	Identity string
	Requests int
	Opened   time.Time
	Closed   time.Time
	Error    string
}

func (c *ConnState) open() bool { return c.Closed.IsZero() }

// CommandStats aggregates command.executed events for one command name.
type CommandStats struct {
	Name     string
	Calls    int
	Failures int
	TotalMS  int64
	LastMS   int64
	LastSeen time.Time
}

// MeanMS is the average duration, or 0 before the first call.
func (s *CommandStats) MeanMS() int64 {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalMS / int64(s.Calls)
}

// maxClosedConns bounds how many finished connections stay listed.
const maxClosedConns = 20

// Board is everything the view derives from events.
type Board struct {
	Conns    map[string]*ConnState
	Commands map[string]*CommandStats
	// HTTP requests carry no connection; they are only counted.
	HTTPRequests int
	LastID       int64
}

func NewBoard() *Board {
	return &Board{
		Conns:    make(map[string]*ConnState),
		Commands: make(map[string]*CommandStats),
	}
}

// Apply folds one event into the board. Unknown types only advance LastID.
func (b *Board) Apply(e events.Event) {
	if e.ID > b.LastID {
		b.LastID = e.ID
	}
	switch e.Type {
	case events.TypeConnAccepted:
		var d events.ConnData
		if json.Unmarshal(e.Data, &d) != nil || d.ConnID == "" {
			return
		}
		c := b.conn(d.ConnID, e.At)
		c.Remote = d.Remote

	case events.TypeConnClosed:
		var d events.ConnData
		if json.Unmarshal(e.Data, &d) != nil || d.ConnID == "" {
			return
		}
		c := b.conn(d.ConnID, e.At)
		c.Closed = e.At
		c.Error = d.Error
		if d.Identity != "" {
			c.Identity = d.Identity
		}
		c.Requests = max(c.Requests, d.Requests)
		b.pruneClosed()

	case events.TypeCommandExecuted:
		var d events.CommandData
		if json.Unmarshal(e.Data, &d) != nil || d.Command == "" {
			return
		}
		s, ok := b.Commands[d.Command]
		if !ok {
			s = &CommandStats{Name: d.Command}
			b.Commands[d.Command] = s
		}
		s.Calls++
		if !d.OK {
			s.Failures++
		}
		s.TotalMS += d.DurationMS
		s.LastMS = d.DurationMS
		s.LastSeen = e.At

		if d.ConnID == "" || d.Transport == "http" {
			b.HTTPRequests++
			return
		}
		c := b.conn(d.ConnID, e.At)
		c.Requests++
		if d.Identity != "" {
			c.Identity = d.Identity
		}
	}
}

func (b *Board) conn(id string, at time.Time) *ConnState {
	c, ok := b.Conns[id]
	if !ok {
		c = &ConnState{ID: id, Opened: at}
		b.Conns[id] = c
	}
	return c
}

func (b *Board) pruneClosed() {
	closed := make([]*ConnState, 0)
	for _, c := range b.Conns {
		if !c.open() {
			closed = append(closed, c)
		}
	}
	if len(closed) <= maxClosedConns {
		return
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Closed.Before(closed[j].Closed) })
	for _, c := range closed[:len(closed)-maxClosedConns] {
		delete(b.Conns, c.ID)
	}
}

// SortedConns lists open connections first, then the most recently closed.
func (b *Board) SortedConns() []*ConnState {
	out := make([]*ConnState, 0, len(b.Conns))
	for _, c := range b.Conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.open() != c.open() {
			return a.open()
		}
		if a.open() {
			return a.Opened.Before(c.Opened)
		}
		return a.Closed.After(c.Closed)
	})
	return out
}

// OpenConns counts connections without a conn.closed event.
func (b *Board) OpenConns() int {
	n := 0
	for _, c := range b.Conns {
		if c.open() {
			n++
		}
	}
	return n
}

// SortedCommands orders commands by call count, then name.
func (b *Board) SortedCommands() []*CommandStats {
	out := make([]*CommandStats, 0, len(b.Commands))
	for _, s := range b.Commands {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Name < out[j].Name
	})
	return out
}
