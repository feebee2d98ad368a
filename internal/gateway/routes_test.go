package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- isAllowedConfigPath tests ---

func TestIsAllowedConfigPath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		// Allowed paths
		{"gateway.port", true},
		{"gateway.bind", true},
		{"gateway.customBindHost", true},
		{"logging", true},
		{"logging.level", true},
		{"timing", true},
		{"timing.pollIntervalMs", true},
		{"prompt", true},
		{"prompt.passSignal", true},
		{"transcript.dir", true},
		// Blocked paths (not in allowlist)
		{"gateway.auth", false},
		{"gateway.auth.mode", false},
		{"gateway.auth.token", false},
		{"gateway.enabled", false},
		{"participants", false},
		{"participants.0.command", false},
		{"store", false},
		{"store.path", false},
		{"hooks", false},
		{"conversation", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isAllowedConfigPath(tt.path))
		})
	}
}

// --- config RPC tests ---

func TestConfigGetRPC(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-3", "config.get", configGetParams{Key: "gateway.port"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Payload, &result))
	assert.Equal(t, "gateway.port", result["key"])
	assert.Equal(t, float64(18799), result["value"])
}

func TestConfigSetRPC(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-4", "config.set", configSetParams{Key: "gateway.bind", Value: "lan"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	// Verify with get
	req2, _ := NewRequest("req-5", "config.get", configGetParams{Key: "gateway.bind"})
	require.NoError(t, conn.WriteJSON(req2))

	var resp2 Frame
	require.NoError(t, conn.ReadJSON(&resp2))
	require.NotNil(t, resp2.OK)
	assert.True(t, *resp2.OK)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp2.Payload, &result))
	assert.Equal(t, "lan", result["value"])
}

func TestConfigGetSensitivePath(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-10", "config.get", configGetParams{Key: "gateway.auth.token"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "forbidden", resp.Error.Code)
}

func TestConfigSetSensitivePath(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-11", "config.set", configSetParams{Key: "gateway.auth.token", Value: "hacked"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "forbidden", resp.Error.Code)
}

func TestConfigSetParticipantPath(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-12", "config.set", configSetParams{Key: "participants", Value: []any{}})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "forbidden", resp.Error.Code)
}

func TestConfigGetEmptyKey(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-13", "config.get", configGetParams{Key: ""})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)
}

func TestConfigGetNotFound(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	// Use an allowed prefix so the request reaches the lookup stage
	req, _ := NewRequest("req-15", "config.get", configGetParams{Key: "logging.nonexistent"})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
}

// --- store-backed RPC tests ---

func TestSessionListWithoutStore(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-17", "session.list", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	assert.Equal(t, "unavailable", resp.Error.Code)
}

func TestSessionSearchEmptyQuery(t *testing.T) {
	_, ts := testServer(t)
	conn := authenticatedConn(t, ts)

	req, _ := NewRequest("req-18", "session.search", sessionSearchParams{Query: "  "})
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	// No store attached wins over the empty-query check
	assert.Equal(t, "unavailable", resp.Error.Code)
}
