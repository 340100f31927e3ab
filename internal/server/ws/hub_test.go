package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/events"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEncodeFormats(t *testing.T) {
	ev := domain.Event{Kind: domain.EventAlert, Level: "warn", Message: "tripped"}

	raw, err := Encode(ev, FormatJSON)
	require.NoError(t, err)
	var back domain.Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "tripped", back.Message)

	bin, err := Encode(ev, FormatProto)
	require.NoError(t, err)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(bin, &st))
	assert.Equal(t, "alert", st.Fields["kind"].GetStringValue())
	assert.Equal(t, "warn", st.Fields["level"].GetStringValue())
}

func TestParseKinds(t *testing.T) {
	all := parseKinds("")
	assert.Len(t, all, 4)

	some := parseKinds("trade, alert,")
	assert.Equal(t, map[domain.EventKind]bool{domain.EventTrade: true, domain.EventAlert: true}, some)
}

func TestHubStreamsSnapshotThenFilteredEvents(t *testing.T) {
	bus := events.NewBus(quiet())
	snap := func() (domain.EngineSnapshot, bool) {
		return domain.EngineSnapshot{Running: true, Ticks: 7}, true
	}
	hub := NewHub(bus, snap, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?kinds=state,alert"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first domain.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, domain.EventState, first.Kind)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(domain.Event{Kind: domain.EventLog, Message: "filtered"})
	bus.Publish(domain.Event{Kind: domain.EventAlert, Message: "delivered"})

	var next domain.Event
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, domain.EventAlert, next.Kind)
	assert.Equal(t, "delivered", next.Message)
}
