package command

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greetEntry(t *testing.T) *Entry {
	t.Helper()
	reg, err := Build([]Descriptor{greetDescriptor()})
	require.NoError(t, err)
	e, ok := reg.Lookup("greet")
	require.True(t, ok)
	return e
}

func hydrateGreet(t *testing.T, args ...string) (*GreetCommand, error) {
	t.Helper()
	cmd, err := greetEntry(t).Hydrate(args)
	if err != nil {
		return nil, err
	}
	return cmd.(*GreetCommand), nil
}

func TestHydrateLongAndShort(t *testing.T) {
	g, err := hydrateGreet(t, "--name", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", g.Name)

	g, err = hydrateGreet(t, "-n", "Grace", "-t", "3")
	require.NoError(t, err)
	assert.Equal(t, "Grace", g.Name)
	assert.Equal(t, 3, g.Times)
}

func TestHydrateKeysAreCaseInsensitive(t *testing.T) {
	g, err := hydrateGreet(t, "--NAME", "Ada", "-T", "2")
	require.NoError(t, err)
	assert.Equal(t, "Ada", g.Name)
	assert.Equal(t, 2, g.Times)
}

func TestHydrateDashCountDoesNotMatter(t *testing.T) {
	g, err := hydrateGreet(t, "-name", "Ada", "--t", "4")
	require.NoError(t, err)
	assert.Equal(t, "Ada", g.Name)
	assert.Equal(t, 4, g.Times)
}

func TestHydrateBooleanFlag(t *testing.T) {
	g, err := hydrateGreet(t, "--loud", "--name", "Ada")
	require.NoError(t, err)
	assert.True(t, g.Loud)

	// trailing key with no value
	g, err = hydrateGreet(t, "--name", "Ada", "--loud")
	require.NoError(t, err)
	assert.True(t, g.Loud)

	g, err = hydrateGreet(t, "--name", "Ada", "--loud", "false")
	require.NoError(t, err)
	assert.False(t, g.Loud)
}

func TestHydrateDefaults(t *testing.T) {
	g, err := hydrateGreet(t, "--name", "Ada")
	require.NoError(t, err)
	assert.Equal(t, 1, g.Times)
	assert.Equal(t, "Red", g.Color)
	assert.Equal(t, time.Second, g.Wait)
	assert.Nil(t, g.Limit, "nullable without default stays nil")
	assert.Equal(t, uuid.Nil, g.ID)
}

func TestHydrateTypedValues(t *testing.T) {
	id := uuid.New()
	g, err := hydrateGreet(t,
		"--name", "Ada",
		"--color", "bLuE",
		"--id", id.String(),
		"--limit", "7",
		"--wait", "250ms",
		"--weight", "1.5",
	)
	require.NoError(t, err)
	assert.Equal(t, "Blue", g.Color, "enum resolves to canonical name")
	assert.Equal(t, id, g.ID)
	require.NotNil(t, g.Limit)
	assert.Equal(t, 7, *g.Limit)
	assert.Equal(t, 250*time.Millisecond, g.Wait)
	assert.InDelta(t, 1.5, g.Weight, 1e-9)
}

func TestHydrateEmptyValue(t *testing.T) {
	g, err := hydrateGreet(t, "--name", "")
	require.NoError(t, err)
	assert.Equal(t, "", g.Name)
}

func TestHydrateMissingRequired(t *testing.T) {
	_, err := hydrateGreet(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequiredOption))

	var oe *OptionError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "n", oe.Key)
	assert.Equal(t, "Argument -n is mandatory.", err.Error())
}

func TestHydrateRequiredCheckedBeforeUnknown(t *testing.T) {
	_, err := hydrateGreet(t, "--bogus", "x")
	assert.ErrorIs(t, err, ErrMissingRequiredOption)
}

func TestHydrateUnknownOption(t *testing.T) {
	_, err := hydrateGreet(t, "--name", "Ada", "--bogus", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOption)
	assert.Equal(t, "Invalid argument -bogus.", err.Error())
}

func TestHydrateTypeConversion(t *testing.T) {
	tests := []struct {
		name string
		args []string
		key  string
		kind Kind
	}{
		{"int", []string{"--name", "Ada", "--times", "many"}, "times", KindInt},
		{"enum", []string{"--name", "Ada", "-c", "pink"}, "c", KindEnum},
		{"uuid", []string{"--name", "Ada", "--id", "not-a-uuid"}, "id", KindUUID},
		{"nullable int", []string{"--name", "Ada", "-l", "x"}, "l", KindInt},
		{"duration", []string{"--name", "Ada", "-w", "soon"}, "w", KindDuration},
		{"bool", []string{"--name", "Ada", "--loud", "maybe"}, "loud", KindBool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hydrateGreet(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTypeConversion)
			var oe *OptionError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, tt.key, oe.Key)
			assert.Equal(t, tt.kind, oe.Kind)
		})
	}
}

func TestHydrateRejectsPositional(t *testing.T) {
	_, err := hydrateGreet(t, "Ada")
	assert.ErrorIs(t, err, ErrUnexpectedArgument)

	_, err = hydrateGreet(t, "--name", "Ada", "extra", "tokens")
	assert.ErrorIs(t, err, ErrUnexpectedArgument)

	_, err = hydrateGreet(t, "--")
	assert.ErrorIs(t, err, ErrUnexpectedArgument)
}

func TestHydrateRejectsDuplicates(t *testing.T) {
	_, err := hydrateGreet(t, "--name", "Ada", "--name", "Bob")
	assert.ErrorIs(t, err, ErrDuplicateOption)

	_, err = hydrateGreet(t, "-n", "Ada", "--name", "Bob")
	assert.ErrorIs(t, err, ErrDuplicateOption)
}

func TestHydrateNegativeNumberIsAFlag(t *testing.T) {
	// values starting with '-' are read as keys, so "-5" is an unknown option
	_, err := hydrateGreet(t, "--name", "Ada", "--times", "-5")
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestHydrateReturnsFreshInstances(t *testing.T) {
	e := greetEntry(t)
	a, err := e.Hydrate([]string{"--name", "Ada", "-l", "3"})
	require.NoError(t, err)
	b, err := e.Hydrate([]string{"--name", "Ada", "-l", "3"})
	require.NoError(t, err)

	ga, gb := a.(*GreetCommand), b.(*GreetCommand)
	assert.Equal(t, ga, gb, "same tokens hydrate identical instances")
	assert.NotSame(t, ga, gb)
	assert.NotSame(t, ga.Limit, gb.Limit)
}

func TestHydrateNoOptions(t *testing.T) {
	reg, err := Build([]Descriptor{pingDescriptor()})
	require.NoError(t, err)
	e, _ := reg.Lookup("ping")

	cmd, err := e.Hydrate(nil)
	require.NoError(t, err)
	assert.IsType(t, &PingCommand{}, cmd)

	_, err = e.Hydrate([]string{"-x"})
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestOptionsInfo(t *testing.T) {
	opts := greetEntry(t).Options()
	require.Len(t, opts, 8)
	assert.Equal(t, "name", opts[0].Long)
	assert.Equal(t, "string", opts[0].Domain)
	assert.Equal(t, "enum: Red, Green, Blue", opts[3].Domain)
	assert.Equal(t, "int?", opts[5].Domain)
}
