package model

import "time"

type Kind string

const (
	KindCharacter Kind = "character"
	KindLocation  Kind = "location"
	KindFaction   Kind = "faction"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCharacter, KindLocation, KindFaction:
		return true
	}
	return false
}

// Label is the graph node label for the kind.
func (k Kind) Label() string {
	switch k {
	case KindCharacter:
		return "Character"
	case KindLocation:
		return "Location"
	case KindFaction:
		return "Faction"
	}
	return ""
}

func Kinds() []Kind {
	return []Kind{KindCharacter, KindLocation, KindFaction}
}

type Alignment string

const (
	AlignmentLight   Alignment = "Light"
	AlignmentDark    Alignment = "Dark"
	AlignmentNeutral Alignment = "Neutral"
)

func (a Alignment) Valid() bool {
	switch a {
	case AlignmentLight, AlignmentDark, AlignmentNeutral:
		return true
	}
	return false
}

type CharacterAttrs struct {
	Species     string   `json:"species"`
	Homeworld   string   `json:"homeworld,omitempty"`   // ref -> location
	Affiliation string   `json:"affiliation,omitempty"` // ref -> faction
	Mentor      string   `json:"mentor,omitempty"`      // ref -> character
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
}

type LocationAttrs struct {
	Region      string `json:"region,omitempty"`
	Climate     string `json:"climate,omitempty"`
	Terrain     string `json:"terrain,omitempty"`
	Description string `json:"description,omitempty"`
}

type FactionAttrs struct {
	Alignment   Alignment `json:"alignment"`
	Territory   string    `json:"territory,omitempty"` // ref -> location
	Leader      string    `json:"leader,omitempty"`    // ref -> character
	Description string    `json:"description,omitempty"`
}

// Entity is the validated, canonical shape shared by every store. Exactly one
// of the kind-specific attribute structs is non-nil, matching Kind.
type Entity struct {
	NaturalKey  string    `json:"natural_key"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	Canonical   bool      `json:"canonical"`
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	SourceTag   string    `json:"source_tag,omitempty"`

	Character *CharacterAttrs `json:"character,omitempty"`
	Location  *LocationAttrs  `json:"location,omitempty"`
	Faction   *FactionAttrs   `json:"faction,omitempty"`
}

// Description returns the free-text field for the entity's kind, used by the
// semantic indexer when building summaries.
func (e *Entity) Description() string {
	switch e.Kind {
	case KindCharacter:
		if e.Character != nil {
			return e.Character.Description
		}
	case KindLocation:
		if e.Location != nil {
			return e.Location.Description
		}
	case KindFaction:
		if e.Faction != nil {
			return e.Faction.Description
		}
	}
	return ""
}
