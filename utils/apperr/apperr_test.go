package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidation("bad"), http.StatusBadRequest},
		{"signature", New(Signature, "bad signature"), http.StatusBadRequest},
		{"not found", NewNotFound("missing"), http.StatusNotFound},
		{"forbidden", NewForbidden("no"), http.StatusForbidden},
		{"conflict", NewConflict("dup"), http.StatusConflict},
		{"gateway rejected", New(GatewayRejected, "declined"), http.StatusBadGateway},
		{"gateway unavailable", New(GatewayUnavailable, "down"), http.StatusServiceUnavailable},
		{"gateway timeout", New(GatewayTimeout, "slow"), http.StatusGatewayTimeout},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", NewConflict("dup")), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(GatewayTimeout, "slow")))
	assert.True(t, Retryable(New(GatewayUnavailable, "down")))
	assert.True(t, Retryable(errors.New("db gone")))
	assert.False(t, Retryable(NewValidation("bad")))
	assert.False(t, Retryable(NewConflict("dup")))
	assert.False(t, Retryable(New(GatewayRejected, "declined")))
}

func TestPublicMessageHidesInternalCause(t *testing.T) {
	err := Wrap(Internal, "Failed to load payment", errors.New("pq: connection refused"))

	assert.Equal(t, "Failed to load payment", PublicMessage(err))
	assert.Equal(t, "Internal server error", PublicMessage(errors.New("raw")))
	assert.ErrorContains(t, err, "connection refused")
}
