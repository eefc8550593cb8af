package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pandashop/creditsync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorMapsServiceErrors(t *testing.T) {
	s := &Server{logger: slog.Default()}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"order not found", &service.OrderNotFoundError{OrderID: 1}, http.StatusNotFound},
		{"validation", &service.ValidationError{Message: "bad input"}, http.StatusBadRequest},
		{"duplicate submission", &service.DuplicateSubmissionError{OrderID: 1}, http.StatusBadRequest},
		{"partner failure", &service.ProviderError{Company: "microinvest", Err: errors.New("timeout")}, http.StatusBadGateway},
		{"wrapped partner failure", errors.Join(errors.New("context"), &service.ProviderError{Company: "x", Err: errors.New("down")}), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.writeError(rec, tt.err)

			assert.Equal(t, tt.want, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	s := &Server{logger: slog.Default()}
	rec := httptest.NewRecorder()
	s.writeSuccess(rec, map[string]any{"orderId": 42})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(42), body["orderId"])
}
