package fhirsource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportsHistory(t *testing.T) {
	raw := `{
		"rest": [{
			"resource": [
				{"type": "Organization", "interaction": [{"code": "read"}, {"code": "history-type"}]},
				{"type": "Endpoint", "interaction": [{"code": "read"}]}
			]
		}]
	}`
	var cs CapabilityStatement
	require.NoError(t, json.Unmarshal([]byte(raw), &cs))

	assert.True(t, SupportsHistory(cs, "Organization"))
	assert.False(t, SupportsHistory(cs, "Endpoint"))
	assert.False(t, SupportsHistory(cs, "Location"))
}
