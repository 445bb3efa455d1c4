// Package builtin provides the commands every relay service carries.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/muesli/reflow/wordwrap"

	"github.com/mattjoyce/relay/internal/command"
	"github.com/mattjoyce/relay/internal/history"
)

// ServiceInfo identifies the running service. Provide it in the container.
type ServiceInfo struct {
	Name    string
	Version string
}

const descriptionWidth = 60

// Descriptors returns the built-in catalog. Append application commands to it
// before building the registry.
func Descriptors() []command.Descriptor {
	return []command.Descriptor{
		{
			Description: "Provides help for the service application.",
			New:         func() command.Command { return &HelpCommand{} },
			Options: []command.OptionSpec{
				{Short: "c", Long: "command", Field: "Command", Help: "The command to provide extended help for."},
			},
		},
		{
			Description: "Returns the name of the service currently connected to.",
			New:         func() command.Command { return &NameCommand{} },
		},
		{
			Description: "Checks that the service is reachable.",
			New:         func() command.Command { return &PingCommand{} },
		},
		{
			Description: "Lists the most recently executed commands.",
			New:         func() command.Command { return &HistoryCommand{} },
			Options: []command.OptionSpec{
				{Short: "n", Long: "count", Field: "Count", Default: "10", Help: "Number of entries to show."},
			},
		},
	}
}

// HelpCommand lists commands, or describes the options of one command.
type HelpCommand struct {
	command.Base
	Command string
}

func (h *HelpCommand) Execute(context.Context) (string, error) {
	reg, err := command.Resolve[*command.Registry](h.Container())
	if err != nil {
		return "", fmt.Errorf("help unavailable: %w", err)
	}
	info, _ := command.Resolve[ServiceInfo](h.Container())
	if info.Name == "" {
		info.Name = "relay"
	}
	if h.Command == "" {
		return overview(reg, info), nil
	}
	entry, ok := reg.Lookup(h.Command)
	if !ok {
		return "", fmt.Errorf("No help exists for [%s].", strings.ToLower(h.Command))
	}
	return detail(entry), nil
}

func overview(reg *command.Registry, info ServiceInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: relay COMMAND [ARGUMENTS]\n\nA generic client for the %s service.\n\n", info.Name)

	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Commands\tDescription")
	for _, e := range reg.Entries() {
		lines := wrap(e.Description())
		fmt.Fprintf(tw, "%s\t%s\n", e.Name(), lines[0])
		for _, l := range lines[1:] {
			fmt.Fprintf(tw, "\t%s\n", l)
		}
	}
	_ = tw.Flush()

	b.WriteString("\nRun 'relay help -c <command>' for more help on a specific command.")
	return b.String()
}

func detail(e *command.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage: relay %s [OPTIONS]\n\n%s\n", e.Name(), wordwrap.String(e.Description(), descriptionWidth))

	opts := e.Options()
	if len(opts) == 0 {
		b.WriteString("\nThis command takes no options.")
		return b.String()
	}

	b.WriteString("\nOptions:\n\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Short Name\tLong Name\tRequired?\tHelp\tType / Values")
	for _, o := range opts {
		short, long := "", ""
		if o.Short != "" {
			short = "-" + o.Short
		}
		if o.Long != "" {
			long = "--" + o.Long
		}
		required := "No"
		if o.Required {
			required = "Yes"
		}
		domain := o.Domain
		if o.Default != "" {
			domain += " (default " + o.Default + ")"
		}
		lines := wrap(o.Help)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", short, long, required, lines[0], domain)
		for _, l := range lines[1:] {
			fmt.Fprintf(tw, "\t\t\t%s\t\n", l)
		}
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func wrap(s string) []string {
	if s == "" {
		return []string{""}
	}
	return strings.Split(wordwrap.String(s, descriptionWidth), "\n")
}

// NameCommand reports which service answered.
type NameCommand struct {
	command.Base
}

func (n *NameCommand) Execute(context.Context) (string, error) {
	info, err := command.Resolve[ServiceInfo](n.Container())
	if err != nil || info.Name == "" {
		info.Name = "relay"
	}
	return info.Name + " service", nil
}

type PingCommand struct{}

func (*PingCommand) Execute(context.Context) (string, error) { return "pong", nil }

// HistoryCommand prints recent entries from the command log.
type HistoryCommand struct {
	command.Base
	Count int
}

func (h *HistoryCommand) Execute(ctx context.Context) (string, error) {
	store, err := command.Resolve[*history.Store](h.Container())
	if err != nil {
		return "", fmt.Errorf("history is not enabled on this service")
	}
	if h.Count <= 0 {
		return "", fmt.Errorf("Invalid value %d for -n: expected a positive count.", h.Count)
	}
	entries, err := store.Recent(ctx, h.Count)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No commands recorded.", nil
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tCommand\tStatus\tDuration\tIdentity\tError")
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "error"
		}
		identity := e.Identity
		if identity == "" {
			identity = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Command, status, e.Duration, identity, e.Error)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n"), nil
}
