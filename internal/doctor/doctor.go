// Package doctor checks a loaded relay configuration for mistakes that
// Load accepts but that will bite at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/relay/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Catalog is what the doctor needs from the command registry.
type Catalog interface {
	Names() []string
}

const (
	minTokenLength    = 16
	minFrameSize      = 4 << 10
	maxSensibleWorker = 1024
)

// Doctor validates configuration against the commands the server will serve.
type Doctor struct {
	cfg     *config.Config
	catalog Catalog
}

// New creates a Doctor. catalog may be nil to skip command checks.
func New(cfg *config.Config, catalog Catalog) *Doctor {
	return &Doctor{cfg: cfg, catalog: catalog}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateListeners(r)
	d.validateLimits(r)
	d.validateAuth(r)
	d.validateClient(r)
	d.validateCommands(r)
	d.warnMissingEnvVars(r)
	d.warnHistoryDisabled(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateListeners(r *Result) {
	tcpHost, tcpOK := d.checkAddr(r, "server.listen", d.cfg.Server.Listen)
	if !d.cfg.HTTP.Enabled {
		return
	}
	httpHost, httpOK := d.checkAddr(r, "http.listen", d.cfg.HTTP.Listen)
	if tcpOK && httpOK && d.cfg.Server.Listen == d.cfg.HTTP.Listen {
		d.addError(r, "listen", "http.listen", "http.listen must differ from server.listen")
	}
	if d.cfg.Auth.Mode == config.AuthModeNone && httpOK && !isLoopback(httpHost) {
		d.addWarning(r, "auth", "http.listen", "HTTP transport exposed beyond loopback without authentication")
	}
	if d.cfg.Auth.Mode == config.AuthModeNone && tcpOK && !isLoopback(tcpHost) {
		d.addWarning(r, "auth", "server.listen", "TCP transport exposed beyond loopback without authentication")
	}
}

func (d *Doctor) checkAddr(r *Result, field, addr string) (string, bool) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		d.addError(r, "listen", field, fmt.Sprintf("invalid listen address %q: %v", addr, err))
		return "", false
	}
	if port == "" {
		d.addError(r, "listen", field, fmt.Sprintf("listen address %q has no port", addr))
		return "", false
	}
	return host, true
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (d *Doctor) validateLimits(r *Result) {
	s := d.cfg.Server
	if s.MaxFrameSize < minFrameSize {
		d.addError(r, "limits", "server.max_frame_size",
			fmt.Sprintf("max_frame_size %d is below the %d byte minimum", s.MaxFrameSize, minFrameSize))
	}
	if s.Workers > maxSensibleWorker {
		d.addWarning(r, "limits", "server.workers",
			fmt.Sprintf("%d workers is unusually high; each holds one connection", s.Workers))
	}
	if s.ReadTimeout == 0 {
		d.addWarning(r, "limits", "server.read_timeout",
			"no read timeout: an idle client holds a worker until it disconnects")
	}
	if s.HandshakeTimeout <= 0 {
		d.addWarning(r, "limits", "server.handshake_timeout", "no handshake timeout configured")
	}
}

func (d *Doctor) validateAuth(r *Result) {
	for i, tok := range d.cfg.Auth.Tokens {
		if len(tok.Token) < minTokenLength {
			d.addWarning(r, "auth", fmt.Sprintf("auth.tokens[%d].token", i),
				fmt.Sprintf("token for %q is shorter than %d characters", tok.Name, minTokenLength))
		}
	}
	if d.cfg.Auth.Mode == config.AuthModeNone && len(d.cfg.Auth.Tokens) > 0 {
		d.addWarning(r, "auth", "auth.mode", "tokens are configured but auth.mode is none; they are ignored")
	}
}

func (d *Doctor) validateClient(r *Result) {
	c := d.cfg.Client
	if c.Token != "" && c.Identity == "" {
		d.addError(r, "client", "client.identity", "client.token is set but client.identity is empty")
	}
	if c.Identity == "" || len(d.cfg.Auth.Tokens) == 0 {
		return
	}
	for _, tok := range d.cfg.Auth.Tokens {
		if tok.Name == c.Identity {
			return
		}
	}
	d.addWarning(r, "client", "client.identity",
		fmt.Sprintf("client identity %q is not among this server's auth.tokens", c.Identity))
}

func (d *Doctor) validateCommands(r *Result) {
	if d.catalog == nil {
		return
	}
	names := d.catalog.Names()
	if len(names) == 0 {
		d.addError(r, "commands", "", "no commands registered")
		return
	}
	for _, n := range names {
		if n == "help" {
			return
		}
	}
	d.addWarning(r, "commands", "", "no help command: requests without arguments will fail")
}

// warnMissingEnvVars warns about ${VAR} references that survived interpolation.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if _, ok := os.LookupEnv(m[1]); !ok {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	check("server.listen", d.cfg.Server.Listen)
	check("http.listen", d.cfg.HTTP.Listen)
	check("state.path", d.cfg.State.Path)
	check("client.host", d.cfg.Client.Host)
}

func (d *Doctor) warnHistoryDisabled(r *Result) {
	if d.cfg.State.Path == "" {
		d.addWarning(r, "state", "state.path", "state.path is empty; command history is disabled")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
