package command

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the value type an option converts its raw token into.
type Kind int

const (
	// KindAuto infers the kind from the bound field's Go type.
	KindAuto Kind = iota
	KindString
	KindBool
	KindInt
	KindUint
	KindFloat
	KindDuration
	KindEnum
	KindUUID
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindDuration:
		return "duration"
	case KindEnum:
		return "enum"
	case KindUUID:
		return "uuid"
	default:
		return "auto"
	}
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
)

// OptionSpec declares one typed option of a command and the struct field it hydrates.
type OptionSpec struct {
	Short    string // exactly one character, or empty
	Long     string // more than one character, or empty
	Field    string // exported field on the command struct
	Required bool
	Default  string // textual default, converted like a supplied value
	Help     string
	Kind     Kind
	Values   []string // enum names
}

// Key returns the name used when reporting errors about this option.
func (o OptionSpec) Key() string {
	if o.Short != "" {
		return o.Short
	}
	return o.Long
}

// Matches reports whether key names this option by either name, case-insensitively.
func (o OptionSpec) Matches(key string) bool {
	return (o.Short != "" && strings.EqualFold(o.Short, key)) ||
		(o.Long != "" && strings.EqualFold(o.Long, key))
}

// binding is an option resolved against the concrete command type.
type binding struct {
	spec     OptionSpec
	index    []int
	kind     Kind
	nullable bool
	elem     reflect.Type
}

func (o OptionSpec) validateNames() error {
	if o.Short == "" && o.Long == "" {
		return fmt.Errorf("option for field %q has neither short nor long name", o.Field)
	}
	if o.Short != "" && len([]rune(o.Short)) != 1 {
		return fmt.Errorf("short name %q must be exactly one character", o.Short)
	}
	if o.Long != "" && len([]rune(o.Long)) <= 1 {
		return fmt.Errorf("long name %q must be longer than one character", o.Long)
	}
	for _, n := range []string{o.Short, o.Long} {
		if strings.HasPrefix(n, "-") || strings.ContainsAny(n, " \t") {
			return fmt.Errorf("option name %q must not start with '-' or contain whitespace", n)
		}
	}
	return nil
}

// bind resolves the spec against the command struct type t.
func (o OptionSpec) bind(t reflect.Type) (binding, error) {
	if err := o.validateNames(); err != nil {
		return binding{}, err
	}
	f, ok := t.FieldByName(o.Field)
	if !ok || !f.IsExported() {
		return binding{}, fmt.Errorf("option -%s: no exported field %q on %s", o.Key(), o.Field, t)
	}

	b := binding{spec: o, index: f.Index, elem: f.Type}
	if f.Type.Kind() == reflect.Pointer {
		b.nullable = true
		b.elem = f.Type.Elem()
	}

	kind, err := inferKind(o, b.elem)
	if err != nil {
		return binding{}, fmt.Errorf("option -%s: %w", o.Key(), err)
	}
	b.kind = kind

	if o.Default != "" {
		if _, err := b.convert(o.Default); err != nil {
			return binding{}, fmt.Errorf("option -%s: invalid default: %w", o.Key(), err)
		}
	}
	return b, nil
}

func inferKind(o OptionSpec, t reflect.Type) (Kind, error) {
	want := o.Kind
	if want == KindAuto && len(o.Values) > 0 {
		want = KindEnum
	}

	var got Kind
	switch {
	case t == durationType:
		got = KindDuration
	case t == uuidType:
		got = KindUUID
	default:
		switch t.Kind() {
		case reflect.String:
			got = KindString
		case reflect.Bool:
			got = KindBool
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			got = KindInt
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			got = KindUint
		case reflect.Float32, reflect.Float64:
			got = KindFloat
		default:
			return 0, fmt.Errorf("unsupported field type %s", t)
		}
	}

	switch {
	case want == KindAuto:
		return got, nil
	case want == KindEnum:
		if got != KindString {
			return 0, fmt.Errorf("enum option needs a string-kinded field, got %s", t)
		}
		if len(o.Values) == 0 {
			return 0, fmt.Errorf("enum option declares no values")
		}
		return KindEnum, nil
	case want != got:
		return 0, fmt.Errorf("kind %s does not fit field type %s", want, t)
	}
	return want, nil
}

// convert parses raw into a value assignable to the bound field.
func (b binding) convert(raw string) (reflect.Value, error) {
	v := reflect.New(b.elem).Elem()
	switch b.kind {
	case KindString:
		v.SetString(raw)
	case KindEnum:
		name, ok := matchEnum(b.spec.Values, raw)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%q is not one of %s", raw, strings.Join(b.spec.Values, ", "))
		}
		v.SetString(name)
	case KindUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		v.Set(reflect.ValueOf(id))
	case KindDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(int64(d))
	case KindBool:
		x, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetBool(x)
	case KindInt:
		x, err := strconv.ParseInt(raw, 10, b.elem.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetInt(x)
	case KindUint:
		x, err := strconv.ParseUint(raw, 10, b.elem.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetUint(x)
	case KindFloat:
		x, err := strconv.ParseFloat(raw, b.elem.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		v.SetFloat(x)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported kind %s", b.kind)
	}

	if b.nullable {
		p := reflect.New(b.elem)
		p.Elem().Set(v)
		return p, nil
	}
	return v, nil
}

func matchEnum(values []string, raw string) (string, bool) {
	for _, v := range values {
		if strings.EqualFold(v, raw) {
			return v, true
		}
	}
	return "", false
}

// Domain describes the accepted values of the option, for help output.
func (b binding) Domain() string {
	if b.kind == KindEnum {
		return "enum: " + strings.Join(b.spec.Values, ", ")
	}
	if b.nullable {
		return b.kind.String() + "?"
	}
	return b.kind.String()
}
