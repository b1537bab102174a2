package canonical

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lorekeep/lorekeep/internal/model"
)

// entityRecord is the persisted row. The uniqueness constraint on
// (kind, natural_key) lives at the store level so duplicate-key races are a
// real, reachable conflict path rather than an application-only check.
type entityRecord struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	Kind        string            `gorm:"size:32;not null;uniqueIndex:idx_entities_kind_key"`
	NaturalKey  string            `gorm:"size:255;not null;uniqueIndex:idx_entities_kind_key"`
	Name        string            `gorm:"size:255;not null"`
	Canonical   bool              `gorm:"not null;default:false"`
	Version     int               `gorm:"not null"`
	SourceTag   string            `gorm:"size:128;index"`
	Attributes  datatypes.JSONMap `gorm:"not null"`
	LastUpdated time.Time         `gorm:"not null"`
}

func (entityRecord) TableName() string { return "entities" }

func newRecord(e *model.Entity) (*entityRecord, error) {
	attrs, err := attrsToMap(e)
	if err != nil {
		return nil, err
	}
	return &entityRecord{
		ID:          uuid.New().String(),
		Kind:        string(e.Kind),
		NaturalKey:  e.NaturalKey,
		Name:        e.Name,
		Canonical:   e.Canonical,
		Version:     1,
		SourceTag:   e.SourceTag,
		Attributes:  attrs,
		LastUpdated: time.Now().UTC(),
	}, nil
}

func attrsToMap(e *model.Entity) (datatypes.JSONMap, error) {
	var src any
	switch e.Kind {
	case model.KindCharacter:
		src = e.Character
	case model.KindLocation:
		src = e.Location
	case model.KindFaction:
		src = e.Faction
	}
	if src == nil {
		return nil, fmt.Errorf("entity %s/%s has no attributes for its kind", e.Kind, e.NaturalKey)
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var m datatypes.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *entityRecord) toEntity() (*model.Entity, error) {
	e := &model.Entity{
		NaturalKey:  r.NaturalKey,
		Kind:        model.Kind(r.Kind),
		Name:        r.Name,
		Canonical:   r.Canonical,
		Version:     r.Version,
		SourceTag:   r.SourceTag,
		LastUpdated: r.LastUpdated,
	}
	raw, err := json.Marshal(r.Attributes)
	if err != nil {
		return nil, err
	}
	switch e.Kind {
	case model.KindCharacter:
		e.Character = &model.CharacterAttrs{}
		err = json.Unmarshal(raw, e.Character)
	case model.KindLocation:
		e.Location = &model.LocationAttrs{}
		err = json.Unmarshal(raw, e.Location)
	case model.KindFaction:
		e.Faction = &model.FactionAttrs{}
		err = json.Unmarshal(raw, e.Faction)
	default:
		err = fmt.Errorf("record %s has unknown kind %q", r.ID, r.Kind)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// sameAttributes compares the incoming entity against the stored row. Name,
// source tag, and the full attribute document all participate; a match means
// the upsert is an idempotent no-write.
func sameAttributes(r *entityRecord, e *model.Entity) (bool, error) {
	incoming, err := attrsToMap(e)
	if err != nil {
		return false, err
	}
	if r.Name != e.Name || r.SourceTag != e.SourceTag {
		return false, nil
	}
	// Go maps marshal with sorted keys, so byte equality is deep equality.
	a, err := json.Marshal(r.Attributes)
	if err != nil {
		return false, err
	}
	b, err := json.Marshal(incoming)
	if err != nil {
		return false, err
	}
	return string(a) == string(b), nil
}
