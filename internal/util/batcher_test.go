package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcher(t *testing.T) {
	b := NewBatcher()
	unique := []string{"id", "email"}
	assert.Nil(t, b.Add(map[string]any{"email": "a@test.com"}, unique))
	assert.Nil(t, b.Add(map[string]any{"email": "b@test.com"}, unique))
	assert.Equal(t, 2, b.Len())

	dup := b.Add(map[string]any{"email": "a@test.com"}, unique)
	require.NotNil(t, dup)
	assert.Equal(t, "email", dup.Field)
	assert.Equal(t, "a@test.com", dup.Value)
	assert.Equal(t, uint(0), dup.Index)
	assert.Equal(t, 2, b.Len())

	assert.Equal(t, "b@test.com", b.Rows()[1]["email"])
}

func TestBatcherNullsNeverConflict(t *testing.T) {
	b := NewBatcher()
	unique := []string{"email"}
	assert.Nil(t, b.Add(map[string]any{"email": nil}, unique))
	assert.Nil(t, b.Add(map[string]any{"email": nil}, unique))
	assert.Nil(t, b.Add(map[string]any{}, unique))
	assert.Equal(t, 3, b.Len())
}

func TestBatcherFieldsDoNotCollide(t *testing.T) {
	b := NewBatcher()
	unique := []string{"a", "b"}
	assert.Nil(t, b.Add(map[string]any{"a": "x"}, unique))
	assert.Nil(t, b.Add(map[string]any{"b": "x"}, unique))
}

func TestBatcherChunks(t *testing.T) {
	b := NewBatcher()
	assert.Nil(t, b.Chunks(2))
	for i := 0; i < 5; i++ {
		b.Add(map[string]any{"id": int64(i)}, []string{"id"})
	}
	chunks := b.Chunks(2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[2], 1)
	assert.Equal(t, int64(4), chunks[2][0]["id"])
	assert.Len(t, b.Chunks(0), 1)

	b.Clear()
	assert.Equal(t, 0, b.Len())
}
