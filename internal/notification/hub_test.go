package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHubStreamsRefetchForSubscribedCategory(t *testing.T) {
	bus := NewLocalBus(nil)
	hub := NewHub(bus, time.Second, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, []string{"equipment_status"})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return bus.Subscribers("equipment_status") == 1 }, time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, hub.Clients())

	bus.Publish(context.Background(), "energy_targets")
	bus.Publish(context.Background(), "equipment_status")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg RefetchMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, RefetchMessage{Type: "refetch", Category: "equipment_status"}, msg)
}

func TestHubUnsubscribesOnDisconnect(t *testing.T) {
	bus := NewLocalBus(nil)
	hub := NewHub(bus, time.Second, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, nil)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bus.Subscribers(AllCategories) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return bus.Subscribers(AllCategories) == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsUnlistedOrigin(t *testing.T) {
	bus := NewLocalBus(nil)
	hub := NewHub(bus, time.Second, []string{"https://ops.site.local"}, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, nil)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, bus.Subscribers(AllCategories))

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://ops.site.local"}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return bus.Subscribers(AllCategories) == 1 }, time.Second, 10*time.Millisecond)
}
