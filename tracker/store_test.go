package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityCacheMemoizesFirstSuccess(t *testing.T) {
	var cache CapabilityCache
	calls := 0
	probe := func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	}

	assert.Equal(t, SchemaWide, cache.Get(context.Background(), probe))
	assert.Equal(t, SchemaWide, cache.Get(context.Background(), probe))
	assert.Equal(t, 1, calls)
}

func TestCapabilityCacheFailureDegradesWithoutCaching(t *testing.T) {
	var cache CapabilityCache
	calls := 0
	probe := func(ctx context.Context) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("connection refused")
		}
		return true, nil
	}

	// A failed probe answers narrow but must not stick.
	assert.Equal(t, SchemaNarrow, cache.Get(context.Background(), probe))
	assert.Equal(t, SchemaWide, cache.Get(context.Background(), probe))
	assert.Equal(t, 2, calls)
}

func TestCapabilityCacheInvalidate(t *testing.T) {
	var cache CapabilityCache
	calls := 0
	probe := func(ctx context.Context) (bool, error) {
		calls++
		return calls > 1, nil
	}

	assert.Equal(t, SchemaNarrow, cache.Get(context.Background(), probe))
	assert.Equal(t, SchemaNarrow, cache.Get(context.Background(), probe))

	cache.Invalidate()
	assert.Equal(t, SchemaWide, cache.Get(context.Background(), probe))
}

func TestSchemaCapabilityString(t *testing.T) {
	assert.Equal(t, "narrow", SchemaNarrow.String())
	assert.Equal(t, "wide", SchemaWide.String())
}
