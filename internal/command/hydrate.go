package command

import (
	"reflect"
	"strings"
)

const flagValue = "true"

type token struct {
	key   string
	value string
}

// tokenize splits a flat argument list into key/value pairs. A key token starts
// with "-" or "--"; the following token is its value unless it also starts with
// "-" or is missing, in which case the value is "true". Positional tokens are
// rejected, as is the same key appearing twice.
func tokenize(args []string) ([]token, error) {
	var out []token
	seen := make(map[string]struct{}, len(args))
	for i := 0; i < len(args); {
		raw := args[i]
		i++

		var key string
		switch {
		case strings.HasPrefix(raw, "--"):
			key = raw[2:]
		case strings.HasPrefix(raw, "-"):
			key = raw[1:]
		default:
			return nil, &OptionError{Err: ErrUnexpectedArgument, Value: raw}
		}
		if key == "" {
			return nil, &OptionError{Err: ErrUnexpectedArgument, Value: raw}
		}

		value := flagValue
		if i < len(args) && !strings.HasPrefix(args[i], "-") {
			value = args[i]
			i++
		}

		lk := strings.ToLower(key)
		if _, dup := seen[lk]; dup {
			return nil, &OptionError{Err: ErrDuplicateOption, Key: key}
		}
		seen[lk] = struct{}{}
		out = append(out, token{key: key, value: value})
	}
	return out, nil
}

// Hydrate parses args against the entry and returns a fresh, populated command.
// Validation runs in order: required options, unknown keys, conversion. No field
// is assigned unless every step succeeds.
func (e *Entry) Hydrate(args []string) (Command, error) {
	tokens, err := tokenize(args)
	if err != nil {
		return nil, err
	}

	supplied := make([]*token, len(e.bindings))

	for _, b := range e.bindings {
		if !b.spec.Required {
			continue
		}
		found := false
		for _, t := range tokens {
			if b.spec.Matches(t.key) {
				found = true
				break
			}
		}
		if !found {
			return nil, &OptionError{Err: ErrMissingRequiredOption, Key: b.spec.Key()}
		}
	}

	for i := range tokens {
		t := &tokens[i]
		idx := -1
		for j, b := range e.bindings {
			if b.spec.Matches(t.key) {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, &OptionError{Err: ErrUnknownOption, Key: t.key}
		}
		if supplied[idx] != nil {
			// e.g. "-n x --name y"
			return nil, &OptionError{Err: ErrDuplicateOption, Key: t.key}
		}
		supplied[idx] = t
	}

	values := make([]reflect.Value, len(e.bindings))
	for i, b := range e.bindings {
		var raw, key string
		switch {
		case supplied[i] != nil:
			raw, key = supplied[i].value, supplied[i].key
		case b.spec.Default != "":
			raw, key = b.spec.Default, b.spec.Key()
		default:
			continue
		}
		v, err := b.convert(raw)
		if err != nil {
			return nil, &OptionError{Err: ErrTypeConversion, Key: key, Value: raw, Kind: b.kind, Cause: err}
		}
		values[i] = v
	}

	cmd := e.factory()
	if len(e.bindings) == 0 {
		return cmd, nil
	}
	target := reflect.ValueOf(cmd).Elem()
	for i, b := range e.bindings {
		if !values[i].IsValid() {
			continue
		}
		target.FieldByIndex(b.index).Set(values[i])
	}
	return cmd, nil
}
