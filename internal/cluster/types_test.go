package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeInfoRoundTrips(t *testing.T) {
	node := NodeInfo{ID: "synap-1", Addr: "localhost:8081", Status: "healthy"}

	data, err := json.Marshal(node)
	require.NoError(t, err)

	var jsonMap map[string]any
	require.NoError(t, json.Unmarshal(data, &jsonMap))
	assert.Equal(t, "synap-1", jsonMap["id"])
	assert.Equal(t, "localhost:8081", jsonMap["addr"])
	assert.Equal(t, "healthy", jsonMap["status"])

	var decoded NodeInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, node, decoded)
}

func TestNodeInfoOmitsEmptyHealthFields(t *testing.T) {
	data, err := json.Marshal(NodeInfo{ID: "synap-1", Addr: "localhost:8081"})
	require.NoError(t, err)

	var jsonMap map[string]any
	require.NoError(t, json.Unmarshal(data, &jsonMap))
	_, hasStatus := jsonMap["status"]
	_, hasCheck := jsonMap["last_health_check"]
	assert.False(t, hasStatus)
	assert.False(t, hasCheck)
}

func TestRegisterRequestRoundTrips(t *testing.T) {
	req := RegisterRequest{Node: NodeInfo{ID: "synap-2", Addr: "localhost:8082"}}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded RegisterRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req, decoded)
}

func TestBroadcastRequestPreservesRawPayload(t *testing.T) {
	req := BroadcastRequest{Path: "/control", Payload: json.RawMessage(`{"op":"ping"}`)}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded BroadcastRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, req.Path, decoded.Path)
	assert.JSONEq(t, string(req.Payload), string(decoded.Payload))
}

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		requestBody any
		expectError bool
	}{
		{name: "2xx with response body", status: http.StatusOK, requestBody: map[string]string{"k": "v"}},
		{name: "2xx no content", status: http.StatusNoContent, requestBody: map[string]string{"k": "v"}},
		{name: "5xx is an error", status: http.StatusInternalServerError, requestBody: map[string]string{"k": "v"}, expectError: true},
		{name: "4xx is an error", status: http.StatusBadRequest, requestBody: map[string]string{"k": "v"}, expectError: true},
		{name: "unmarshalable body is an error", status: http.StatusOK, requestBody: make(chan int), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				w.WriteHeader(tt.status)
				if tt.status != http.StatusNoContent {
					_, _ = w.Write([]byte(`{"status":"ok"}`))
				}
			}))
			defer server.Close()

			var out map[string]string
			err := PostJSON(context.Background(), server.URL, tt.requestBody, &out)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPostJSONContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := PostJSON(ctx, server.URL, map[string]string{"k": "v"}, nil)
	assert.Error(t, err)
}

func TestPostJSONUnreachableServer(t *testing.T) {
	err := PostJSON(context.Background(), "http://127.0.0.1:1", map[string]string{"k": "v"}, nil)
	assert.Error(t, err)
}

func TestGetJSON(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		expectError bool
	}{
		{name: "2xx decodes body", status: http.StatusOK, body: `{"data":"test","value":123}`},
		{name: "404 is an error", status: http.StatusNotFound, body: `{}`, expectError: true},
		{name: "500 is an error", status: http.StatusInternalServerError, body: `{}`, expectError: true},
		{name: "invalid json is an error", status: http.StatusOK, body: `{not json}`, expectError: true},
		{name: "redirect status is an error", status: http.StatusMovedPermanently, body: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.status)
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
			}))
			defer server.Close()

			var out map[string]any
			err := GetJSON(context.Background(), server.URL, &out)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", out["data"])
			assert.Equal(t, float64(123), out["value"])
		})
	}
}

func TestGetJSONUnreachableServer(t *testing.T) {
	var out map[string]any
	err := GetJSON(context.Background(), "http://127.0.0.1:1", &out)
	assert.Error(t, err)
}

func TestHTTPClientHasBoundedTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, httpClient.Timeout)
}

func TestBroadcastRequestPreservesPayloadShape(t *testing.T) {
	for _, payload := range []string{
		`{"op":"test","value":123}`,
		`[1,2,3]`,
		`"simple string"`,
		`42`,
		`true`,
		`null`,
	} {
		req := BroadcastRequest{Path: "/test", Payload: json.RawMessage(payload)}

		data, err := json.Marshal(req)
		require.NoError(t, err)

		var decoded BroadcastRequest
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, payload, string(decoded.Payload))
	}
}
