package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/collegeerp/internal/handlers"
)

func TestHealth(t *testing.T) {
	up := handlers.PingFunc(func(ctx context.Context) error { return nil })
	down := handlers.PingFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") })

	tests := []struct {
		name     string
		db       handlers.Pinger
		redis    handlers.Pinger
		status   int
		database string
		cache    string
	}{
		{"all up", up, up, http.StatusOK, "up", "up"},
		{"database down", down, up, http.StatusServiceUnavailable, "down", "up"},
		{"redis down", up, down, http.StatusServiceUnavailable, "up", "down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handlers.NewHealthHandler(tt.db, tt.redis).Health(w, httptest.NewRequest("GET", "/health", nil))

			assert.Equal(t, tt.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.database, body["database"])
			assert.Equal(t, tt.cache, body["redis"])
		})
	}
}
