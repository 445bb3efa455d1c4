package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// LineFunc runs one tokenized script line.
type LineFunc func(ctx context.Context, args []string) (string, error)

// RunScript invokes every non-blank line of r that does not start with '#',
// in order, against host:port. A failed line contributes its error text as
// output and the script continues.
func (s *Session) RunScript(ctx context.Context, host string, port int, r io.Reader) (string, error) {
	return RunLines(ctx, r, func(ctx context.Context, args []string) (string, error) {
		return s.Invoke(ctx, host, port, args)
	})
}

// RunLines is RunScript with the per-line action supplied by the caller, so
// client-local commands can be mixed with remote ones.
func RunLines(ctx context.Context, r io.Reader, run LineFunc) (string, error) {
	var out strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}

		var text string
		args, err := SplitArgs(line)
		if err == nil {
			text, err = run(ctx, args)
		}
		if err != nil {
			text = err.Error()
		}
		out.WriteString(text)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return out.String(), fmt.Errorf("read script: %w", err)
	}
	return out.String(), nil
}

// SplitArgs tokenizes a command line on whitespace. Single or double quotes
// group text, including whitespace, into one token; "" yields an empty token.
// A backslash escapes the next character outside quotes, and only '"' or '\'
// inside double quotes. Single quotes are literal.
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			if quote == '"' && r != '"' && r != '\\' {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}
