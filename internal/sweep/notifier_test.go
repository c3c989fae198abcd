package sweep

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

func TestWakePostsProcessDeadline(t *testing.T) {
	var got WakeRequest
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, time.Second)
	require.NoError(t, n.Wake(context.Background(), "room-7", 4))

	assert.Equal(t, "/api/rooms/room-7/deadline", gotPath)
	assert.Equal(t, WakeTypeProcessDeadline, got.Type)
	assert.Equal(t, "room-7", got.RoomID)
	assert.Equal(t, 4, got.RoundNumber)
}

func TestWakeNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, time.Second)
	err := n.Wake(context.Background(), "room-7", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestWakeUnreachableGatewayIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	n := NewNotifier(srv.URL, time.Second)
	assert.Error(t, n.Wake(context.Background(), "room-7", 4))
}
