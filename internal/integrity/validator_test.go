package integrity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/model"
)

type fakeCanonical struct {
	keys       []string
	collisions []string
	err        error
}

func (f *fakeCanonical) ListKeys(ctx context.Context, kind model.Kind) ([]string, error) {
	return f.keys, f.err
}

func (f *fakeCanonical) FindCollisions(ctx context.Context, kind model.Kind) ([]string, error) {
	return f.collisions, nil
}

type fakeLister struct {
	keys  []string
	err   error
	delay time.Duration
}

func (f *fakeLister) ListKeys(ctx context.Context, kind model.Kind) ([]string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.keys, f.err
}

func TestAuditCleanState(t *testing.T) {
	keys := []string{"han_solo", "luke_skywalker"}
	v := NewValidator(logger.NewNop(),
		&fakeCanonical{keys: keys},
		&fakeLister{keys: keys},
		&fakeLister{keys: keys},
		time.Second)

	record, err := v.Audit(context.Background(), model.KindCharacter)
	require.NoError(t, err)
	assert.True(t, record.Clean())
	assert.Equal(t, 2, record.CanonicalKeys)
	assert.Equal(t, 2, record.GraphKeys)
	assert.Equal(t, 2, record.VectorKeys)
	require.Len(t, record.Latencies, 3)
	for _, lat := range record.Latencies {
		assert.False(t, lat.Slow)
		assert.Empty(t, lat.Err)
	}
}

func TestAuditDriftAndOrphans(t *testing.T) {
	v := NewValidator(logger.NewNop(),
		&fakeCanonical{keys: []string{"han_solo", "luke_skywalker", "leia_organa"}},
		&fakeLister{keys: []string{"han_solo", "ghost_node"}},
		&fakeLister{keys: []string{"han_solo"}},
		time.Second)

	record, err := v.Audit(context.Background(), model.KindCharacter)
	require.NoError(t, err)
	assert.False(t, record.Clean())
	assert.Equal(t, []string{"leia_organa", "luke_skywalker"}, record.MissingGraph)
	assert.Equal(t, []string{"leia_organa", "luke_skywalker"}, record.MissingVector)
	assert.Equal(t, []string{"ghost_node"}, record.GraphOrphans)
	assert.Empty(t, record.VectorOrphans)
}

func TestAuditVectorOutageDegradesOnly(t *testing.T) {
	// Ten entities synced while the vector store was unreachable: canonical
	// and graph agree, the vector store reports nothing but the audit still
	// completes with a latency error entry for the vector store.
	keys := make([]string, 0, 10)
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		keys = append(keys, k)
	}
	v := NewValidator(logger.NewNop(),
		&fakeCanonical{keys: keys},
		&fakeLister{keys: keys},
		&fakeLister{err: &model.StoreUnavailable{Store: "vector", Err: errors.New("connection refused")}},
		time.Second)

	record, err := v.Audit(context.Background(), model.KindCharacter)
	require.NoError(t, err)
	assert.Empty(t, record.MissingGraph)
	assert.Empty(t, record.GraphOrphans)
	assert.Equal(t, 10, record.CanonicalKeys)
	assert.Equal(t, 10, record.GraphKeys)

	require.Len(t, record.Latencies, 3)
	assert.NotEmpty(t, record.Latencies[2].Err)
}

func TestAuditVectorMissingWarnings(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	v := NewValidator(logger.NewNop(),
		&fakeCanonical{keys: keys},
		&fakeLister{keys: keys},
		&fakeLister{keys: nil}, // vector store came back empty after the outage
		time.Second)

	record, err := v.Audit(context.Background(), model.KindCharacter)
	require.NoError(t, err)
	assert.Len(t, record.MissingVector, 10)
	assert.Empty(t, record.MissingGraph)
}

func TestAuditCanonicalFailureIsFatal(t *testing.T) {
	v := NewValidator(logger.NewNop(),
		&fakeCanonical{err: errors.New("down")},
		&fakeLister{},
		&fakeLister{},
		time.Second)

	_, err := v.Audit(context.Background(), model.KindCharacter)
	assert.Error(t, err)
}

func TestAuditFlagsSlowStore(t *testing.T) {
	keys := []string{"han_solo"}
	v := NewValidator(logger.NewNop(),
		&fakeCanonical{keys: keys},
		&fakeLister{keys: keys, delay: 5 * time.Millisecond},
		&fakeLister{keys: keys},
		time.Millisecond)

	record, err := v.Audit(context.Background(), model.KindCharacter)
	require.NoError(t, err)
	assert.True(t, record.Latencies[1].Slow)
}

func TestAuditReportsCollisions(t *testing.T) {
	keys := []string{"han_solo"}
	v := NewValidator(logger.NewNop(),
		&fakeCanonical{keys: keys, collisions: []string{"han_solo"}},
		&fakeLister{keys: keys},
		&fakeLister{keys: keys},
		time.Second)

	record, err := v.Audit(context.Background(), model.KindCharacter)
	require.NoError(t, err)
	require.Len(t, record.Duplicates, 1)
	assert.Equal(t, "natural_key_collision", record.Duplicates[0].Reason)
}
