package protocol

import (
	"bytes"
	"reflect"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	args := []string{"greet", "--name", "Zoë", "", "  spaced  ", "-x"}

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, args))

	got, err := ReadRequest(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, args, got)
}

func TestRequestEmptyVector(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, nil))

	got, err := ReadRequest(&buf, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeArgsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"count exceeds payload", []byte{0, 0, 0, 9}},
		{"element truncated", []byte{0, 0, 0, 1, 0, 0, 0, 4, 'a'}},
		{"missing element length", []byte{0, 0, 0, 2, 0, 0, 0, 0, 0, 0}},
		{"trailing bytes", []byte{0, 0, 0, 0, 'z'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeArgs(tt.payload)
			assert.ErrorIs(t, err, ErrFraming)
		})
	}
}

func TestWriteResponseReplacesInvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, "ok\xffdone"))

	got, err := ReadResponse(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok�done", got)
}

func TestResponseEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, ""))

	got, err := ReadResponse(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestCodecProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	argGen := gen.OneGenOf(
		gen.AnyString(),
		gen.Const(""),
		gen.Const(" \t "),
		gen.UnicodeString(unicode.Han),
		gen.UnicodeString(unicode.Greek),
	)

	properties.Property("argument vectors survive framing unchanged", prop.ForAll(
		func(args []string) bool {
			var buf bytes.Buffer
			if err := WriteRequest(&buf, args); err != nil {
				return false
			}
			got, err := ReadRequest(&buf, 0)
			if err != nil {
				return false
			}
			if len(args) == 0 {
				return len(got) == 0
			}
			return reflect.DeepEqual(args, got) && buf.Len() == 0
		},
		gen.SliceOf(argGen),
	))

	properties.Property("valid text responses survive unchanged", prop.ForAll(
		func(text string) bool {
			var buf bytes.Buffer
			if err := WriteResponse(&buf, text); err != nil {
				return false
			}
			got, err := ReadResponse(&buf, 0)
			return err == nil && got == text
		},
		gen.UnicodeString(unicode.Latin),
	))

	properties.TestingRun(t)
}
