package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mini", req.Model)
		assert.Equal(t, "hello", req.Input)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL + "/v1/", Model: "mini", Version: "2", APIKey: "secret"})
	require.NoError(t, err)
	defer p.Close()

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, ProviderIdentity{Name: "mini", Version: "2"}, p.Identity())
}

func TestHTTPProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"slow down"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrOverloaded)
				assert.Contains(t, err.Error(), "slow down")
			},
		},
		{
			name:   "context length",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"This model's maximum context length is 8192 tokens, however you requested 10000 tokens"}}`,
			check: func(t *testing.T, err error) {
				var tl *TooLongError
				require.ErrorAs(t, err, &tl)
				assert.Equal(t, 8192, tl.Limit)
				assert.Equal(t, 10000, tl.Actual)
			},
		},
		{
			name:   "payload too large",
			status: http.StatusRequestEntityTooLarge,
			body:   "too big",
			check: func(t *testing.T, err error) {
				var tl *TooLongError
				require.ErrorAs(t, err, &tl)
				assert.Zero(t, tl.Limit)
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "boom",
			check: func(t *testing.T, err error) {
				assert.False(t, errors.Is(err, ErrOverloaded))
				assert.Contains(t, err.Error(), "boom")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			p, err := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL, Model: "mini"})
			require.NoError(t, err)
			_, err = p.Embed(context.Background(), "x")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNewHTTPProvider_Validation(t *testing.T) {
	_, err := NewHTTPProvider(HTTPConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewHTTPProvider(HTTPConfig{Endpoint: "http://x"})
	assert.Error(t, err)
}
