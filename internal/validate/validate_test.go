package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/lorekeep/internal/model"
)

func TestValidateCharacter(t *testing.T) {
	e, err := Entity(Payload{
		Kind:      "character",
		Name:      "Luke Skywalker",
		SourceTag: "seed-v1",
		Fields: map[string]any{
			"species":     "Human",
			"homeworld":   "Tatooine",
			"affiliation": "Rebel Alliance",
			"aliases":     []any{"Red Five"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "luke_skywalker", e.NaturalKey)
	assert.Equal(t, model.KindCharacter, e.Kind)
	require.NotNil(t, e.Character)
	assert.Equal(t, "Human", e.Character.Species)
	assert.Equal(t, []string{"Red Five"}, e.Character.Aliases)
	assert.Nil(t, e.Location)
	assert.Nil(t, e.Faction)
	assert.Zero(t, e.Version)
}

func TestValidateFactionAlignmentEnum(t *testing.T) {
	_, err := Entity(Payload{
		Kind:   "faction",
		Name:   "Rebel Alliance",
		Fields: map[string]any{"alignment": "Chaotic"},
	})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "alignment", verr.Field)
	assert.False(t, verr.KeyFail)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		field   string
		keyFail bool
	}{
		{
			name:    "unknown kind",
			payload: Payload{Kind: "starship", Name: "X-Wing"},
			field:   "kind",
		},
		{
			name:    "empty name",
			payload: Payload{Kind: "location", Name: "   "},
			keyFail: true,
		},
		{
			name:    "name with no usable characters",
			payload: Payload{Kind: "location", Name: "!!!"},
			keyFail: true,
		},
		{
			name:    "missing required field",
			payload: Payload{Kind: "character", Name: "Han Solo", Fields: map[string]any{}},
			field:   "species",
		},
		{
			name: "mistyped field",
			payload: Payload{Kind: "character", Name: "Han Solo", Fields: map[string]any{
				"species": 42,
			}},
			field: "species",
		},
		{
			name: "mistyped array element",
			payload: Payload{Kind: "character", Name: "Han Solo", Fields: map[string]any{
				"species": "Human",
				"aliases": []any{"Captain", 7},
			}},
			field: "aliases",
		},
		{
			name: "unknown field",
			payload: Payload{Kind: "location", Name: "Hoth", Fields: map[string]any{
				"terrain":    "tundra",
				"population": "none",
			}},
			field: "population",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Entity(tc.payload)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.keyFail, verr.KeyFail)
			if tc.field != "" {
				assert.Equal(t, tc.field, verr.Field)
			}
		})
	}
}

func TestReferencesDerived(t *testing.T) {
	e, err := Entity(Payload{
		Kind: "character",
		Name: "Luke Skywalker",
		Fields: map[string]any{
			"species":     "Human",
			"homeworld":   "Tatooine",
			"affiliation": "Rebel Alliance",
			"mentor":      "Obi-Wan Kenobi",
		},
	})
	require.NoError(t, err)

	refs := e.References()
	require.Len(t, refs, 3)

	byType := map[string]model.Reference{}
	for _, r := range refs {
		byType[r.EdgeType] = r
	}
	assert.Equal(t, "rebel_alliance", byType[model.EdgeAffiliatedWith].TargetKey)
	assert.Equal(t, model.KindFaction, byType[model.EdgeAffiliatedWith].TargetKind)
	assert.Equal(t, "tatooine", byType[model.EdgeOriginatesFrom].TargetKey)
	assert.Equal(t, "obi_wan_kenobi", byType[model.EdgeMentoredBy].TargetKey)
	for _, r := range refs {
		assert.Equal(t, "luke_skywalker", r.SourceKey)
	}
}
