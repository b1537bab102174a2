// Package validate turns loosely-typed import payloads into the canonical
// entity shape. It is a pure function over the payload: nothing reaches any
// store before passing here.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/lorekeep/lorekeep/internal/model"
	"github.com/lorekeep/lorekeep/internal/naturalkey"
)

// Payload is the wire-agnostic input shape submitted by import collaborators.
// Fields holds the kind-specific attributes as decoded JSON.
type Payload struct {
	Kind      string         `json:"kind"`
	Name      string         `json:"name"`
	SourceTag string         `json:"source_tag,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// Entity validates the payload against the declared schema for its kind and
// returns the canonical entity. Version and Canonical are left at their zero
// values; the canonical store adapter owns both.
func Entity(p Payload) (*model.Entity, error) {
	kind := model.Kind(strings.ToLower(strings.TrimSpace(p.Kind)))
	if !kind.Valid() {
		return nil, &model.ValidationError{Kind: kind, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
	}

	if strings.TrimSpace(p.Name) == "" {
		return nil, &model.ValidationError{Kind: kind, KeyFail: true, Reason: "name is empty"}
	}
	key, err := naturalkey.Derive(p.Name)
	if err != nil {
		return nil, &model.ValidationError{Kind: kind, KeyFail: true, Reason: fmt.Sprintf("name %q: %v", p.Name, err)}
	}

	e := &model.Entity{
		NaturalKey:  key,
		Kind:        kind,
		Name:        strings.TrimSpace(p.Name),
		SourceTag:   strings.TrimSpace(p.SourceTag),
		LastUpdated: time.Now().UTC(),
	}

	switch kind {
	case model.KindCharacter:
		e.Character, err = characterAttrs(p.Fields)
	case model.KindLocation:
		e.Location, err = locationAttrs(p.Fields)
	case model.KindFaction:
		e.Faction, err = factionAttrs(p.Fields)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func characterAttrs(fields map[string]any) (*model.CharacterAttrs, error) {
	v := fieldReader{kind: model.KindCharacter, fields: fields}
	attrs := &model.CharacterAttrs{
		Species:     v.requiredString("species"),
		Homeworld:   v.optionalString("homeworld"),
		Affiliation: v.optionalString("affiliation"),
		Mentor:      v.optionalString("mentor"),
		Aliases:     v.optionalStringSlice("aliases"),
		Description: v.optionalString("description"),
	}
	if err := v.finish(); err != nil {
		return nil, err
	}
	return attrs, nil
}

func locationAttrs(fields map[string]any) (*model.LocationAttrs, error) {
	v := fieldReader{kind: model.KindLocation, fields: fields}
	attrs := &model.LocationAttrs{
		Region:      v.optionalString("region"),
		Climate:     v.optionalString("climate"),
		Terrain:     v.requiredString("terrain"),
		Description: v.optionalString("description"),
	}
	if err := v.finish(); err != nil {
		return nil, err
	}
	return attrs, nil
}

func factionAttrs(fields map[string]any) (*model.FactionAttrs, error) {
	v := fieldReader{kind: model.KindFaction, fields: fields}
	attrs := &model.FactionAttrs{
		Alignment:   model.Alignment(v.requiredString("alignment")),
		Territory:   v.optionalString("territory"),
		Leader:      v.optionalString("leader"),
		Description: v.optionalString("description"),
	}
	if err := v.finish(); err != nil {
		return nil, err
	}
	if !attrs.Alignment.Valid() {
		return nil, &model.ValidationError{
			Kind:   model.KindFaction,
			Field:  "alignment",
			Reason: fmt.Sprintf("%q is not one of Light, Dark, Neutral", attrs.Alignment),
		}
	}
	return attrs, nil
}

// fieldReader accumulates the first schema violation while consuming fields,
// then rejects any field the schema does not declare.
type fieldReader struct {
	kind   model.Kind
	fields map[string]any
	seen   []string
	err    *model.ValidationError
}

func (v *fieldReader) fail(field, reason string) {
	if v.err == nil {
		v.err = &model.ValidationError{Kind: v.kind, Field: field, Reason: reason}
	}
}

func (v *fieldReader) requiredString(field string) string {
	v.seen = append(v.seen, field)
	raw, ok := v.fields[field]
	if !ok {
		v.fail(field, "required field missing")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.fail(field, fmt.Sprintf("expected string, got %T", raw))
		return ""
	}
	if strings.TrimSpace(s) == "" {
		v.fail(field, "required field empty")
		return ""
	}
	return strings.TrimSpace(s)
}

func (v *fieldReader) optionalString(field string) string {
	v.seen = append(v.seen, field)
	raw, ok := v.fields[field]
	if !ok {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.fail(field, fmt.Sprintf("expected string, got %T", raw))
		return ""
	}
	return strings.TrimSpace(s)
}

func (v *fieldReader) optionalStringSlice(field string) []string {
	v.seen = append(v.seen, field)
	raw, ok := v.fields[field]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		v.fail(field, fmt.Sprintf("expected array of strings, got %T", raw))
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			v.fail(field, fmt.Sprintf("element %d: expected string, got %T", i, item))
			return nil
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func (v *fieldReader) finish() error {
	if v.err != nil {
		return v.err
	}
	declared := make(map[string]bool, len(v.seen))
	for _, f := range v.seen {
		declared[f] = true
	}
	for f := range v.fields {
		if !declared[f] {
			return &model.ValidationError{Kind: v.kind, Field: f, Reason: "unknown field"}
		}
	}
	return nil
}
