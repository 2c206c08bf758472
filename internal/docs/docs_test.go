package docs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DocumentsVerified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/applications/ok/verification":
			_, _ = w.Write([]byte(`{"application_id":"ok","verified":true}`))
		case "/applications/missing/verification":
			_, _ = w.Write([]byte(`{"application_id":"missing","verified":false,"missing":["transcript"]}`))
		case "/applications/down/verification":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", time.Second)
	ctx := context.Background()

	ok, err := c.DocumentsVerified(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.DocumentsVerified(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.DocumentsVerified(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok, "unknown applications have nothing verified")

	_, err = c.DocumentsVerified(ctx, "down")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := NewClient(endpoint, "", 200*time.Millisecond).DocumentsVerified(context.Background(), "a1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStatic(t *testing.T) {
	ok, err := Static{Verified: true}.DocumentsVerified(context.Background(), "any")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Static{}.DocumentsVerified(context.Background(), "any")
	require.NoError(t, err)
	assert.False(t, ok)
}
