package command

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type generatedCommand struct{ Value string }

func (*generatedCommand) Execute(context.Context) (string, error) { return "", nil }

func TestRegistryLookupProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	nameGen := gen.SliceOf(gen.Identifier()).Map(func(names []string) []string {
		seen := make(map[string]struct{})
		out := make([]string, 0, len(names))
		for _, n := range names {
			k := strings.ToLower(n)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, n)
		}
		return out
	})

	properties.Property("every registered name resolves case-insensitively", prop.ForAll(
		func(names []string) bool {
			reg, err := Build(descriptorsFor(names))
			if err != nil {
				return false
			}
			for _, n := range names {
				for _, variant := range []string{n, strings.ToUpper(n), strings.ToLower(n)} {
					e, ok := reg.Lookup(variant)
					if !ok || e.Name() != n {
						return false
					}
				}
			}
			return reg.Len() == len(names)
		},
		nameGen,
	))

	properties.Property("unregistered names miss", prop.ForAll(
		func(names []string, query string) bool {
			reg, err := Build(descriptorsFor(names))
			if err != nil {
				return false
			}
			for _, n := range names {
				if strings.EqualFold(n, query) {
					return true
				}
			}
			_, ok := reg.Lookup(query)
			return !ok
		},
		nameGen,
		gen.AnyString(),
	))

	properties.Property("hydrating the same tokens twice is identical", prop.ForAll(
		func(value string, withValue bool) bool {
			reg, err := Build([]Descriptor{{
				Name: "gen",
				New:  func() Command { return &generatedCommand{} },
				Options: []OptionSpec{
					{Short: "v", Long: "value", Field: "Value", Default: "fallback"},
				},
			}})
			if err != nil {
				return false
			}
			e, _ := reg.Lookup("gen")
			var args []string
			if withValue && !strings.HasPrefix(value, "-") {
				args = []string{"--value", value}
			}
			a, errA := e.Hydrate(args)
			b, errB := e.Hydrate(args)
			if errA != nil || errB != nil {
				return false
			}
			return reflect.DeepEqual(a, b)
		},
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func descriptorsFor(names []string) []Descriptor {
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, Descriptor{
			Name:        n,
			Description: fmt.Sprintf("generated %s", n),
			New:         func() Command { return &generatedCommand{} },
		})
	}
	return out
}
