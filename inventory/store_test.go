package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeRejectsUnknownTable(t *testing.T) {
	s := &PostgresStore{}
	err := s.Subscribe(context.Background(), "not_a_table", func(ChangeEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")
}

func TestConditionalUpdateRejectsNegativeCapacity(t *testing.T) {
	s := &PostgresStore{}
	err := s.ConditionalUpdateCapacity(context.Background(), "p1", 10, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestEmbeddedSchema(t *testing.T) {
	assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+TableProviders)
	assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+TableAllocations)
	assert.Contains(t, schemaSQL, "pg_notify")
	assert.Contains(t, schemaSQL, "available_storage >= 0")
}
