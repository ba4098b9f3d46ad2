package lens

import (
	"bytes"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon/internal/entity"
)

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		in     ResolveInput
		want   Resolution
		errIs  error
		warned bool
	}{
		{
			name: "override wins over everything",
			in:   ResolveInput{Override: "o", Environment: "e", Default: "d", AllowDevFallback: true, DevFallback: "dev"},
			want: Resolution{ID: "o", Source: SourceOverride},
		},
		{
			name: "environment beats default",
			in:   ResolveInput{Environment: "e", Default: "d"},
			want: Resolution{ID: "e", Source: SourceEnvironment},
		},
		{
			name: "static default",
			in:   ResolveInput{Default: "d", AllowDevFallback: true, DevFallback: "dev"},
			want: Resolution{ID: "d", Source: SourceDefault},
		},
		{
			name:   "dev fallback warns",
			in:     ResolveInput{AllowDevFallback: true, DevFallback: "dev"},
			want:   Resolution{ID: "dev", Source: SourceDevFallback},
			warned: true,
		},
		{
			name:  "dev fallback must be enabled",
			in:    ResolveInput{DevFallback: "dev"},
			errIs: ErrNoLens,
		},
		{
			name:  "dev fallback refused in production",
			in:    ResolveInput{AllowDevFallback: true, DevFallback: "dev", Production: true},
			errIs: ErrNoLens,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			got, err := Resolve(tt.in, logger)
			if tt.errIs != nil {
				require.ErrorIs(t, err, tt.errIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.warned, bytes.Contains(buf.Bytes(), []byte("level=WARN")))
		})
	}
}

func TestContractRouteConnectors(t *testing.T) {
	c := NewContract(Parts{
		ID: "l",
		Routes: []Route{
			{ID: "sport", Pattern: regexp.MustCompile(`(?i)padel|tennis`), Connectors: []string{"places", "clubs"}},
			{ID: "padel", Pattern: regexp.MustCompile(`(?i)padel`), Connectors: []string{"padel-directory", "places"}},
		},
	})

	got, ok := c.RouteConnectors("Padel in Leith")
	require.True(t, ok)
	assert.Equal(t, []string{"clubs", "padel-directory", "places"}, got)

	got, ok = c.RouteConnectors("cafes")
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestContractAccessorsReturnCopies(t *testing.T) {
	c := NewContract(Parts{
		ID:    "l",
		Rules: []MappingRule{{ID: "r1", Dimension: entity.DimensionActivity, Value: "padel"}},
		Registry: map[entity.Dimension]map[string]CanonicalValue{
			entity.DimensionActivity: {"padel": {Value: "padel"}},
		},
	})

	rules := c.MappingRules()
	rules[0].Value = "mutated"

	assert.Equal(t, "padel", c.MappingRules()[0].Value)
	assert.True(t, c.HasValue(entity.DimensionActivity, "padel"))
	assert.False(t, c.HasValue(entity.DimensionRole, "padel"))
}

func TestTriggerFires(t *testing.T) {
	dims := entity.NewDimensions(map[entity.Dimension][]string{entity.DimensionActivity: {"padel"}})
	trig := Trigger{ID: "t", Dimension: entity.DimensionActivity, Values: []string{"tennis", "padel"}, EntityClass: entity.ClassPlace}

	assert.True(t, trig.Fires(dims, entity.ClassPlace))
	assert.False(t, trig.Fires(dims, entity.ClassEvent), "class condition")
	assert.False(t, trig.Fires(entity.NewDimensions(nil), entity.ClassPlace))
}

func TestApplicabilityAllows(t *testing.T) {
	a := Applicability{Sources: []string{"places"}, Classes: []entity.Class{entity.ClassPlace}}

	assert.True(t, a.Allows("places", entity.ClassPlace))
	assert.False(t, a.Allows("clubs", entity.ClassPlace))
	assert.False(t, a.Allows("places", entity.ClassPerson))
	assert.True(t, Applicability{}.Allows("anything", entity.ClassThing))
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := errors.Join(&ValidationError{Gate: GatePatterns, RuleID: "r1", Message: "bad regex"})

	assert.ErrorIs(t, err, ErrInvalidContract)
	gate, ok := FailedGate(err)
	require.True(t, ok)
	assert.Equal(t, GatePatterns, gate)
	assert.Contains(t, err.Error(), "rule r1")
}
