package model

import "github.com/lorekeep/lorekeep/internal/naturalkey"

// Reference is a derived, directed relationship: a reference field on one
// entity pointing to another by natural key. References never carry
// store-internal IDs.
type Reference struct {
	Field      string `json:"field"`
	EdgeType   string `json:"edge_type"`
	SourceKey  string `json:"source_key"`
	SourceKind Kind   `json:"source_kind"`
	TargetKey  string `json:"target_key"`
	TargetKind Kind   `json:"target_kind"`
}

const (
	EdgeAffiliatedWith = "AFFILIATED_WITH"
	EdgeOriginatesFrom = "ORIGINATES_FROM"
	EdgeMentoredBy     = "MENTORED_BY"
	EdgeControls       = "CONTROLS"
	EdgeLedBy          = "LED_BY"
)

// EdgeTypes lists every relationship type the projector may materialize.
// Edge types are interpolated into Cypher (relationship types cannot be
// parameterized), so the projector only accepts types from this set.
func EdgeTypes() []string {
	return []string{
		EdgeAffiliatedWith,
		EdgeOriginatesFrom,
		EdgeMentoredBy,
		EdgeControls,
		EdgeLedBy,
	}
}

// References derives the entity's outgoing relationships from its reference
// fields. Targets are identified by normalized natural key; empty fields
// yield no reference.
func (e *Entity) References() []Reference {
	var refs []Reference
	add := func(field, edgeType, targetName string, targetKind Kind) {
		key, err := naturalkey.Derive(targetName)
		if err != nil {
			return
		}
		refs = append(refs, Reference{
			Field:      field,
			EdgeType:   edgeType,
			SourceKey:  e.NaturalKey,
			SourceKind: e.Kind,
			TargetKey:  key,
			TargetKind: targetKind,
		})
	}

	switch e.Kind {
	case KindCharacter:
		if c := e.Character; c != nil {
			if c.Affiliation != "" {
				add("affiliation", EdgeAffiliatedWith, c.Affiliation, KindFaction)
			}
			if c.Homeworld != "" {
				add("homeworld", EdgeOriginatesFrom, c.Homeworld, KindLocation)
			}
			if c.Mentor != "" {
				add("mentor", EdgeMentoredBy, c.Mentor, KindCharacter)
			}
		}
	case KindFaction:
		if f := e.Faction; f != nil {
			if f.Territory != "" {
				add("territory", EdgeControls, f.Territory, KindLocation)
			}
			if f.Leader != "" {
				add("leader", EdgeLedBy, f.Leader, KindCharacter)
			}
		}
	}
	return refs
}
