package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	require.True(t, strings.HasPrefix(id, Prefix), "unexpected id %s", id)
	_, err := uuid.Parse(strings.TrimPrefix(id, Prefix))
	assert.NoError(t, err)
	assert.NotEqual(t, id, Generate())
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
