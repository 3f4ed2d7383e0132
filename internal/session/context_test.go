package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"prepai/internal/api"
	"prepai/internal/config"
	apperrors "prepai/internal/errors"
	"prepai/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextUnauthorizedFiresOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	calls := 0
	sc := NewContext(api.StaticTokenSource("stale"), func() { calls++ })
	defer sc.Close()

	client := sc.NewClient(config.APIConfig{
		BaseURL: server.URL,
		Timeout: time.Second,
		Next:    config.OperationConfig{Path: "/next"},
	})

	for range 2 {
		_, err := client.NextQuestion(context.Background(), &types.NextQuestionRequest{SessionID: "s"})
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}
	assert.Equal(t, 1, calls)
	assert.True(t, sc.Expired())
}

func TestContextUnauthorizedRearmsAfterAcceptedRequest(t *testing.T) {
	var requests atomic.Int32
	statuses := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusOK, http.StatusUnauthorized}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := statuses[int(requests.Add(1))-1]
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"title":"Follow-up","description":"Go deeper."}`))
		}
	}))
	defer server.Close()

	calls := 0
	sc := NewContext(api.StaticTokenSource("rotating"), func() { calls++ })
	defer sc.Close()

	client := sc.NewClient(config.APIConfig{
		BaseURL: server.URL,
		Timeout: time.Second,
		Next:    config.OperationConfig{Path: "/next"},
	})
	next := func() error {
		_, err := client.NextQuestion(context.Background(), &types.NextQuestionRequest{SessionID: "s"})
		return err
	}

	assert.ErrorIs(t, next(), apperrors.ErrUnauthorized)
	assert.ErrorIs(t, next(), apperrors.ErrUnauthorized)
	assert.Equal(t, 1, calls)

	// A fresh token was accepted, so the next rejection is a new expiry.
	require.NoError(t, next())
	assert.False(t, sc.Expired())

	assert.ErrorIs(t, next(), apperrors.ErrUnauthorized)
	assert.Equal(t, 2, calls)
	assert.True(t, sc.Expired())
}

func TestContextCloseReleasesTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	src, err := api.NewFileTokenSource(path, true, nil)
	require.NoError(t, err)

	sc := NewContext(src, nil)
	assert.Same(t, src, sc.Tokens())
	require.NoError(t, sc.Close())
	require.NoError(t, sc.Close())
	assert.False(t, sc.Expired())
}
