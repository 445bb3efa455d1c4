package command

import (
	"errors"
	"fmt"
)

var (
	ErrCommandNotFound       = errors.New("command not found")
	ErrMissingRequiredOption = errors.New("missing required option")
	ErrUnknownOption         = errors.New("unknown option")
	ErrTypeConversion        = errors.New("type conversion error")
	ErrUnexpectedArgument    = errors.New("unexpected argument")
	ErrDuplicateOption       = errors.New("duplicate option")
)

// OptionError reports a hydration failure for one key. Its message is the text
// returned to the caller, so it is phrased for end users.
type OptionError struct {
	Err   error // one of the Err* sentinels
	Key   string
	Value string
	Kind  Kind
	Cause error
}

func (e *OptionError) Error() string {
	switch e.Err {
	case ErrMissingRequiredOption:
		return fmt.Sprintf("Argument -%s is mandatory.", e.Key)
	case ErrUnknownOption:
		return fmt.Sprintf("Invalid argument -%s.", e.Key)
	case ErrTypeConversion:
		if e.Cause != nil {
			return fmt.Sprintf("Invalid value %q for -%s: expected %s (%v).", e.Value, e.Key, e.Kind, e.Cause)
		}
		return fmt.Sprintf("Invalid value %q for -%s: expected %s.", e.Value, e.Key, e.Kind)
	case ErrUnexpectedArgument:
		return fmt.Sprintf("Unexpected argument %q: options must start with '-' or '--'.", e.Value)
	case ErrDuplicateOption:
		return fmt.Sprintf("Argument -%s supplied more than once.", e.Key)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Key)
	}
}

func (e *OptionError) Unwrap() error { return e.Err }

// NotFoundError is returned when a command name does not resolve.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Command %s does not exist.", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrCommandNotFound }
