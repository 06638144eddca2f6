package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema(t *testing.T) {
	data, err := generateSchema()
	require.NoError(t, err)

	var schema struct {
		Title      string                     `json:"title"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, "DittoVault Configuration", schema.Title)
	for _, section := range []string{"logging", "server", "identity", "snapshots", "shards", "assets", "gc", "metrics"} {
		assert.Contains(t, schema.Properties, section)
	}
}
