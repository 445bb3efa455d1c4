package builtin

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/dispatch"
	"github.com/mattjoyce/relay/internal/history"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type GreetCommand struct {
	Name  string
	Color string
}

func (g *GreetCommand) Execute(context.Context) (string, error) { return "Hello, " + g.Name, nil }

func greetDescriptor() command.Descriptor {
	return command.Descriptor{
		Description: "Greets someone by name.",
		New:         func() command.Command { return &GreetCommand{} },
		Options: []command.OptionSpec{
			{Short: "n", Long: "name", Field: "Name", Required: true, Help: "Who to greet."},
			{Long: "color", Field: "Color", Values: []string{"Red", "Blue"}, Default: "Red"},
		},
	}
}

func newDispatcher(t *testing.T, withHistory bool) *dispatch.Dispatcher {
	t.Helper()
	services := command.NewServices()
	command.Provide(services, ServiceInfo{Name: "acme", Version: "1.2.3"})

	var opts []command.BuildOption
	if withHistory {
		db, err := storage.OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		store := history.NewStore(db)
		command.Provide(services, store)
		opts = append(opts, command.WithMiddleware(history.Middleware(store)))
	}

	reg, err := command.Build(append(Descriptors(), greetDescriptor()), opts...)
	require.NoError(t, err)
	command.Provide(services, reg)
	return dispatch.New(reg, services)
}

func TestHelpOverview(t *testing.T) {
	d := newDispatcher(t, false)
	out := d.Execute(context.Background(), nil, dispatch.Meta{})

	assert.True(t, strings.HasPrefix(out, "Usage: relay COMMAND [ARGUMENTS]"))
	assert.Contains(t, out, "A generic client for the acme service.")
	for _, name := range []string{"greet", "help", "history", "name", "ping"} {
		assert.Contains(t, out, "\n"+name+" ", "overview lists %s", name)
	}
	assert.Contains(t, out, "Greets someone by name.")
	assert.Less(t, strings.Index(out, "\ngreet "), strings.Index(out, "\nping "), "sorted by name")
}

func TestHelpForCommand(t *testing.T) {
	d := newDispatcher(t, false)
	out := d.Execute(context.Background(), []string{"help", "-c", "GREET"}, dispatch.Meta{})

	assert.Contains(t, out, "Usage: relay greet [OPTIONS]")
	assert.Contains(t, out, "Short Name")
	assert.Contains(t, out, "-n")
	assert.Contains(t, out, "--name")
	assert.Contains(t, out, "Yes")
	assert.Contains(t, out, "Who to greet.")
	assert.Contains(t, out, "enum: Red, Blue (default Red)")
}

func TestHelpForCommandWithoutOptions(t *testing.T) {
	d := newDispatcher(t, false)
	out := d.Execute(context.Background(), []string{"help", "--command", "ping"}, dispatch.Meta{})
	assert.Contains(t, out, "This command takes no options.")
}

func TestHelpUnknownCommand(t *testing.T) {
	d := newDispatcher(t, false)
	out := d.Execute(context.Background(), []string{"help", "-c", "Nope"}, dispatch.Meta{})
	assert.Equal(t, "No help exists for [nope].", out)
}

func TestNameAndPing(t *testing.T) {
	d := newDispatcher(t, false)
	assert.Equal(t, "acme service", d.Execute(context.Background(), []string{"name"}, dispatch.Meta{}))
	assert.Equal(t, "pong", d.Execute(context.Background(), []string{"ping"}, dispatch.Meta{}))
}

func TestNameWithoutServiceInfo(t *testing.T) {
	reg, err := command.Build(Descriptors())
	require.NoError(t, err)
	d := dispatch.New(reg, nil)
	assert.Equal(t, "relay service", d.Execute(context.Background(), []string{"name"}, dispatch.Meta{}))
}

func TestHistoryDisabled(t *testing.T) {
	d := newDispatcher(t, false)
	out := d.Execute(context.Background(), []string{"history"}, dispatch.Meta{})
	assert.Equal(t, "history is not enabled on this service", out)
}

func TestHistoryListsRecentCommands(t *testing.T) {
	d := newDispatcher(t, true)
	ctx := context.Background()

	assert.Equal(t, "No commands recorded.", d.Execute(ctx, []string{"history"}, dispatch.Meta{}))

	d.Execute(ctx, []string{"ping"}, dispatch.Meta{Identity: "ops"})
	d.Execute(ctx, []string{"greet", "--name", "Ada"}, dispatch.Meta{Identity: "ops"})

	out := d.Execute(ctx, []string{"history", "-n", "2"}, dispatch.Meta{})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Command")
	assert.Contains(t, lines[1], "greet")
	assert.Contains(t, lines[2], "ping")
	assert.Contains(t, lines[1], "ops")

	out = d.Execute(ctx, []string{"history", "-n", "0"}, dispatch.Meta{})
	assert.Contains(t, out, "expected a positive count")
}
