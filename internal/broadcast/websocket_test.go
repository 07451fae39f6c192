package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"example.com/steptracker/internal/domain"
)

func TestStreamHandlerDeliversUpdates(t *testing.T) {
	hub := NewHub()
	require.NoError(t, hub.Publish(context.Background(), domain.Update{Steps: 500}))

	server := httptest.NewServer(NewStreamHandler(hub, nil))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first domain.Update
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, 500, first.Steps)
	require.Nil(t, first.Location)

	require.NoError(t, hub.Publish(context.Background(), domain.Update{
		Steps:    550,
		Location: &domain.Coordinates{Latitude: 19.4326, Longitude: -99.1332},
	}))

	var second domain.Update
	require.NoError(t, conn.ReadJSON(&second))
	require.Equal(t, 550, second.Steps)
	require.NotNil(t, second.Location)
	require.InDelta(t, 19.4326, second.Location.Latitude, 1e-9)
}
