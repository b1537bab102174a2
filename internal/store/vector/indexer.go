package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
)

// Indexer builds a short natural-language summary per entity and upserts it
// into the vector store. Index never returns an error to the pipeline: a
// missing vector entry is a recall degradation the validator reports as a
// warning, not a correctness violation.
type Indexer struct {
	client   *Client
	embedder Embedder
	log      *logger.Logger
}

func NewIndexer(log *logger.Logger, client *Client, embedder Embedder) *Indexer {
	return &Indexer{
		client:   client,
		embedder: embedder,
		log:      log.With("store", "vector"),
	}
}

// Index embeds and upserts the entity summary. Returns whether the entity
// made it into the vector store; failures are logged only.
func (i *Indexer) Index(ctx context.Context, e *model.Entity) bool {
	summary := Summarize(e)

	vec, err := i.embedder.Embed(ctx, summary)
	if err != nil {
		i.log.Warn("embedding failed, vector entry skipped",
			"kind", e.Kind, "natural_key", e.NaturalKey, "error", err)
		return false
	}

	err = i.client.UpsertPoint(ctx, Point{
		Kind:       e.Kind,
		NaturalKey: e.NaturalKey,
		Summary:    summary,
		Vector:     vec,
	})
	if err != nil {
		i.log.Warn("vector upsert failed, entry skipped",
			"kind", e.Kind, "natural_key", e.NaturalKey, "error", err)
		return false
	}
	return true
}

// Delete removes the entity's point. Best-effort like Index.
func (i *Indexer) Delete(ctx context.Context, kind model.Kind, naturalKey string) bool {
	if err := i.client.DeletePoint(ctx, kind, naturalKey); err != nil {
		i.log.Warn("vector delete failed", "kind", kind, "natural_key", naturalKey, "error", err)
		return false
	}
	return true
}

func (i *Indexer) ListKeys(ctx context.Context, kind model.Kind) ([]string, error) {
	return i.client.ListKeys(ctx, kind)
}

// Summarize renders the descriptive fields into one short sentence block.
// The text is what gets embedded, so it leads with the name and kind.
func Summarize(e *model.Entity) string {
	var parts []string
	switch e.Kind {
	case model.KindCharacter:
		c := e.Character
		parts = append(parts, fmt.Sprintf("%s is a character", e.Name))
		if c != nil {
			if c.Species != "" {
				parts = append(parts, fmt.Sprintf("of the %s species", c.Species))
			}
			if c.Homeworld != "" {
				parts = append(parts, fmt.Sprintf("from %s", c.Homeworld))
			}
			if c.Affiliation != "" {
				parts = append(parts, fmt.Sprintf("affiliated with %s", c.Affiliation))
			}
			if len(c.Aliases) > 0 {
				parts = append(parts, fmt.Sprintf("also known as %s", strings.Join(c.Aliases, ", ")))
			}
		}
	case model.KindLocation:
		l := e.Location
		parts = append(parts, fmt.Sprintf("%s is a location", e.Name))
		if l != nil {
			if l.Region != "" {
				parts = append(parts, fmt.Sprintf("in the %s", l.Region))
			}
			if l.Terrain != "" {
				parts = append(parts, fmt.Sprintf("with %s terrain", l.Terrain))
			}
			if l.Climate != "" {
				parts = append(parts, fmt.Sprintf("and a %s climate", l.Climate))
			}
		}
	case model.KindFaction:
		f := e.Faction
		parts = append(parts, fmt.Sprintf("%s is a faction", e.Name))
		if f != nil {
			if f.Alignment != "" {
				parts = append(parts, fmt.Sprintf("aligned with the %s side", f.Alignment))
			}
			if f.Territory != "" {
				parts = append(parts, fmt.Sprintf("operating from %s", f.Territory))
			}
			if f.Leader != "" {
				parts = append(parts, fmt.Sprintf("led by %s", f.Leader))
			}
		}
	}

	summary := strings.Join(parts, " ") + "."
	if desc := e.Description(); desc != "" {
		summary += " " + desc
	}
	return summary
}
