// Package canonical wraps the authoritative document store. Every write the
// engine performs goes through the Adapter, which owns versioning and the
// natural-key uniqueness contract.
package canonical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeNoop    Outcome = "noop"
)

type Adapter struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAdapter(log *logger.Logger, dsn string) (*Adapter, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return newAdapter(log, db)
}

// NewAdapterWithDB wires an existing gorm connection. Tests use this with the
// sqlite driver.
func NewAdapterWithDB(log *logger.Logger, db *gorm.DB) (*Adapter, error) {
	return newAdapter(log, db)
}

func newAdapter(log *logger.Logger, db *gorm.DB) (*Adapter, error) {
	if err := db.AutoMigrate(&entityRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate entities table: %w", err)
	}
	return &Adapter{db: db, log: log.With("store", "canonical")}, nil
}

func (a *Adapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// upsertAttempts bounds the duplicate-key retry loop. Each conflict means
// another writer won the insert race; losing it this many times in a row
// points at something other than contention.
const upsertAttempts = 5

// Upsert inserts or updates by (kind, naturalKey). A duplicate-key error from
// a racing insert is benign: the retry re-reads and lands as an update, or
// re-inserts when the winning row was deleted again in the meantime. Conflicts
// are absorbed here, never surfaced to the caller, until the attempt bound.
func (a *Adapter) Upsert(ctx context.Context, e *model.Entity) (Outcome, error) {
	var (
		outcome Outcome
		err     error
	)
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		outcome, err = a.upsertOnce(ctx, e)
		var conflict *model.ConflictError
		if !errors.As(err, &conflict) {
			return outcome, err
		}
		a.log.Warn("insert lost duplicate-key race, retrying",
			"kind", e.Kind, "natural_key", e.NaturalKey, "attempt", attempt)
	}
	return outcome, err
}

func (a *Adapter) upsertOnce(ctx context.Context, e *model.Entity) (Outcome, error) {
	var existing entityRecord
	err := a.db.WithContext(ctx).
		Where("kind = ? AND natural_key = ?", e.Kind, e.NaturalKey).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec, recErr := newRecord(e)
		if recErr != nil {
			return "", recErr
		}
		if createErr := a.db.WithContext(ctx).Create(rec).Error; createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return "", &model.ConflictError{Kind: e.Kind, NaturalKey: e.NaturalKey}
			}
			return "", a.unavailable(createErr)
		}
		e.Version = rec.Version
		e.LastUpdated = rec.LastUpdated
		return OutcomeCreated, nil
	}
	if err != nil {
		return "", a.unavailable(err)
	}

	same, err := sameAttributes(&existing, e)
	if err != nil {
		return "", err
	}
	if same {
		e.Version = existing.Version
		e.Canonical = existing.Canonical
		e.LastUpdated = existing.LastUpdated
		return OutcomeNoop, nil
	}

	attrs, err := attrsToMap(e)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	updates := map[string]any{
		"name":         e.Name,
		"source_tag":   e.SourceTag,
		"attributes":   attrs,
		"version":      existing.Version + 1,
		"last_updated": now,
	}
	if err := a.db.WithContext(ctx).Model(&entityRecord{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return "", a.unavailable(err)
	}
	e.Version = existing.Version + 1
	e.Canonical = existing.Canonical
	e.LastUpdated = now
	return OutcomeUpdated, nil
}

// ItemResult is the per-item outcome of a bulk upsert. One bad item never
// aborts the batch.
type ItemResult struct {
	NaturalKey string  `json:"natural_key"`
	Outcome    Outcome `json:"outcome,omitempty"`
	Rejected   bool    `json:"rejected,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

func (a *Adapter) UpsertMany(ctx context.Context, entities []*model.Entity) []ItemResult {
	results := make([]ItemResult, 0, len(entities))
	for _, e := range entities {
		outcome, err := a.Upsert(ctx, e)
		if err != nil {
			results = append(results, ItemResult{
				NaturalKey: e.NaturalKey,
				Rejected:   true,
				Reason:     err.Error(),
			})
			continue
		}
		results = append(results, ItemResult{NaturalKey: e.NaturalKey, Outcome: outcome})
	}
	return results
}

func (a *Adapter) Get(ctx context.Context, kind model.Kind, naturalKey string) (*model.Entity, error) {
	var rec entityRecord
	err := a.db.WithContext(ctx).
		Where("kind = ? AND natural_key = ?", kind, naturalKey).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, a.unavailable(err)
	}
	return rec.toEntity()
}

func (a *Adapter) ListKeys(ctx context.Context, kind model.Kind) ([]string, error) {
	var keys []string
	err := a.db.WithContext(ctx).Model(&entityRecord{}).
		Where("kind = ?", kind).
		Order("natural_key").
		Pluck("natural_key", &keys).Error
	if err != nil {
		return nil, a.unavailable(err)
	}
	return keys, nil
}

func (a *Adapter) ListEntities(ctx context.Context, kind model.Kind) ([]*model.Entity, error) {
	var recs []entityRecord
	err := a.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("natural_key").
		Find(&recs).Error
	if err != nil {
		return nil, a.unavailable(err)
	}
	entities := make([]*model.Entity, 0, len(recs))
	for i := range recs {
		e, convErr := recs[i].toEntity()
		if convErr != nil {
			return nil, convErr
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// FindCollisions scans for natural keys held by more than one live row of the
// same kind. The unique index makes this unreachable through the adapter, but
// direct inserts outside it can still corrupt the store; the validator
// surfaces these as requiring operator intervention.
func (a *Adapter) FindCollisions(ctx context.Context, kind model.Kind) ([]string, error) {
	var keys []string
	err := a.db.WithContext(ctx).Model(&entityRecord{}).
		Where("kind = ?", kind).
		Group("natural_key").
		Having("COUNT(*) > 1").
		Pluck("natural_key", &keys).Error
	if err != nil {
		return nil, a.unavailable(err)
	}
	return keys, nil
}

// MarkCanonical flips the canonical flag for entities verified against the
// authoritative seed set.
func (a *Adapter) MarkCanonical(ctx context.Context, kind model.Kind, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res := a.db.WithContext(ctx).Model(&entityRecord{}).
		Where("kind = ? AND natural_key IN ?", kind, keys).
		Update("canonical", true)
	if res.Error != nil {
		return 0, a.unavailable(res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes one entity by key. Deletion is an operator action; the
// caller cascades it to the graph and vector projections.
func (a *Adapter) Delete(ctx context.Context, kind model.Kind, naturalKey string) error {
	res := a.db.WithContext(ctx).
		Where("kind = ? AND natural_key = ?", kind, naturalKey).
		Delete(&entityRecord{})
	if res.Error != nil {
		return a.unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteBySourceTag removes every entity produced by one import pipeline and
// returns the removed (kind, key) pairs so the caller can cascade.
func (a *Adapter) DeleteBySourceTag(ctx context.Context, sourceTag string) ([]*model.Entity, error) {
	var recs []entityRecord
	err := a.db.WithContext(ctx).
		Where("source_tag = ?", sourceTag).
		Find(&recs).Error
	if err != nil {
		return nil, a.unavailable(err)
	}
	removed := make([]*model.Entity, 0, len(recs))
	for i := range recs {
		e, convErr := recs[i].toEntity()
		if convErr != nil {
			return nil, convErr
		}
		removed = append(removed, e)
	}
	if len(recs) > 0 {
		if err := a.db.WithContext(ctx).
			Where("source_tag = ?", sourceTag).
			Delete(&entityRecord{}).Error; err != nil {
			return nil, a.unavailable(err)
		}
	}
	return removed, nil
}

func (a *Adapter) unavailable(err error) error {
	return &model.StoreUnavailable{Store: "canonical", Err: err}
}
