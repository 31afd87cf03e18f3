package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat/internal/models"
	"teamchat/internal/transport"
)

var testSecret = []byte("test-secret")

func seededHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(testSecret, zerolog.Nop())
	h.Seed(
		[]models.User{
			{ID: "alice", Username: "alice", Role: "student"},
			{ID: "bob", Username: "bob", Role: "student"},
			{ID: "carol", Username: "carol", Role: "supervisor"},
		},
		[]models.Room{
			{
				Key:  "room-team",
				Name: "Team Alpha",
				Type: models.RoomGroup,
				Participants: []models.User{
					{ID: "alice", Username: "alice"},
					{ID: "bob", Username: "bob"},
					{ID: "carol", Username: "carol"},
				},
			},
			{
				Key:  "room-dm",
				Type: models.RoomIndividual,
				Participants: []models.User{
					{ID: "alice", Username: "alice"},
					{ID: "bob", Username: "bob"},
				},
			},
		},
	)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return h, srv
}

type testClient struct {
	t      *testing.T
	c      *transport.Client
	events chan receivedEvent
}

type receivedEvent struct {
	event models.Event
	data  json.RawMessage
}

func connectClient(t *testing.T, srv *httptest.Server, userID string) *testClient {
	t.Helper()
	token, err := MintToken(testSecret, Identity{UserID: userID, Username: userID, Role: "student"}, time.Hour)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	tc := &testClient{t: t, events: make(chan receivedEvent, 64)}
	tc.c = transport.New(wsURL, token, zerolog.Nop(), transport.Options{})
	for _, ev := range []models.Event{
		models.EvRooms, models.EvNewMessage, models.EvUserStatus,
		models.EvMessageDelivered, models.EvMessagesRead, models.EvMessageDeleted,
		models.EvRing, models.EvRingAccept, models.EvRingDecline,
		models.EvOffer, models.EvAnswer, models.EvCandidate,
		models.EvEnd, models.EvScreenShareUpdate,
	} {
		ev := ev
		tc.c.On(ev, func(data json.RawMessage) {
			tc.events <- receivedEvent{event: ev, data: data}
		})
	}
	require.NoError(t, tc.c.Connect(context.Background()))
	t.Cleanup(tc.c.Close)
	return tc
}

// waitFor drains the event stream until the wanted event arrives.
func waitFor[T any](t *testing.T, tc *testClient, event models.Event) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-tc.events:
			if got.event != event {
				continue
			}
			v, err := transport.Decode[T](got.data)
			require.NoError(t, err)
			return v
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func TestConnect_SnapshotAndPresence(t *testing.T) {
	_, srv := seededHub(t)

	alice := connectClient(t, srv, "alice")
	rooms := waitFor[[]models.Room](t, alice, models.EvRooms)
	require.Len(t, rooms, 2)
	assert.Equal(t, "room-team", rooms[0].Key)

	bob := connectClient(t, srv, "bob")
	waitFor[[]models.Room](t, bob, models.EvRooms)

	status := waitFor[models.UserStatus](t, alice, models.EvUserStatus)
	assert.Equal(t, models.UserStatus{UserID: "bob", IsOnline: true}, status)
}

func TestSendAndReceipts(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")
	bob := connectClient(t, srv, "bob")

	ack, err := alice.c.Request(context.Background(), models.EvSend, models.SendRequest{
		RoomKey: "room-dm", Text: "hello", Type: models.MsgText,
	})
	require.NoError(t, err)
	require.True(t, ack.Success)
	require.NotEmpty(t, ack.MessageID)

	msg := waitFor[models.Message](t, bob, models.EvNewMessage)
	assert.Equal(t, ack.MessageID, msg.ID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "alice", msg.Sender.ID)
	assert.False(t, msg.Timestamp.IsZero())

	// Bob acknowledges delivery, then read; alice sees both fan-outs.
	rAck, err := bob.c.Request(context.Background(), models.EvMarkDelivered, models.ReceiptRequest{
		RoomKey: "room-dm", MessageIDs: []string{msg.ID},
	})
	require.NoError(t, err)
	require.True(t, rAck.Success)
	delivered := waitFor[models.DeliveredFanout](t, alice, models.EvMessageDelivered)
	assert.Equal(t, []string{msg.ID}, delivered.MessageIDs)
	assert.Equal(t, []string{"bob"}, delivered.DeliveredTo)

	_, err = bob.c.Request(context.Background(), models.EvMarkRead, models.ReceiptRequest{
		RoomKey: "room-dm", MessageIDs: []string{msg.ID},
	})
	require.NoError(t, err)
	read := waitFor[models.ReadFanout](t, alice, models.EvMessagesRead)
	assert.Equal(t, "bob", read.UserID)
	assert.Equal(t, []string{msg.ID}, read.MessageIDs)
}

func TestAck_CorrelatesNumericRequestIDs(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")

	// The transport serializes its request counter as a JSON number; every
	// acked event must round-trip against the hub within the deadline.
	for i, text := range []string{"one", "two", "three"} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		ack, err := alice.c.Request(ctx, models.EvSend, models.SendRequest{
			RoomKey: "room-dm", Text: text, Type: models.MsgText,
		})
		cancel()
		require.NoError(t, err, "request %d never acked", i)
		require.True(t, ack.Success)
		require.NotEmpty(t, ack.MessageID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ack, err := alice.c.Request(ctx, models.EvDelete, models.DeleteRequest{MessageID: "no-such-id"})
	require.NoError(t, err)
	assert.False(t, ack.Success)
}

func TestSend_RejectsNonMember(t *testing.T) {
	_, srv := seededHub(t)
	carol := connectClient(t, srv, "carol")

	ack, err := carol.c.Request(context.Background(), models.EvSend, models.SendRequest{
		RoomKey: "room-dm", Text: "let me in", Type: models.MsgText,
	})
	require.NoError(t, err)
	assert.False(t, ack.Success)
}

func TestDeleteForEveryone(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")
	bob := connectClient(t, srv, "bob")

	ack, err := alice.c.Request(context.Background(), models.EvSend, models.SendRequest{
		RoomKey: "room-dm", Text: "oops", Type: models.MsgText,
	})
	require.NoError(t, err)
	waitFor[models.Message](t, bob, models.EvNewMessage)

	// Bob cannot delete alice's message for everyone.
	dAck, err := bob.c.Request(context.Background(), models.EvDelete, models.DeleteRequest{
		MessageID: ack.MessageID, DeleteForEveryone: true,
	})
	require.NoError(t, err)
	assert.False(t, dAck.Success)

	dAck, err = alice.c.Request(context.Background(), models.EvDelete, models.DeleteRequest{
		MessageID: ack.MessageID, DeleteForEveryone: true,
	})
	require.NoError(t, err)
	require.True(t, dAck.Success)

	tomb := waitFor[models.MessageDeleted](t, bob, models.EvMessageDeleted)
	assert.Equal(t, ack.MessageID, tomb.MessageID)
	assert.True(t, tomb.DeleteForEveryone)
}

func TestRESTHistoryPagination(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")

	for _, text := range []string{"one", "two", "three"} {
		ack, err := alice.c.Request(context.Background(), models.EvSend, models.SendRequest{
			RoomKey: "room-team", Text: text, Type: models.MsgText,
		})
		require.NoError(t, err)
		require.True(t, ack.Success)
	}

	token, err := MintToken(testSecret, Identity{UserID: "bob", Username: "bob"}, time.Hour)
	require.NoError(t, err)
	get := func(url string) map[string]json.RawMessage {
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		var out map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &out))
		return out
	}

	out := get(srv.URL + "/chat/rooms/room-team/messages?limit=2")
	var page []models.Message
	require.NoError(t, json.Unmarshal(out["messages"], &page))
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Text)
	assert.Equal(t, "three", page[1].Text)
	assert.Equal(t, "true", string(out["hasMore"]))

	cursor := page[0].Timestamp.Format(time.RFC3339Nano)
	out = get(srv.URL + "/chat/rooms/room-team/messages?limit=2&before=" + cursor)
	require.NoError(t, json.Unmarshal(out["messages"], &page))
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Text)
	assert.Equal(t, "false", string(out["hasMore"]))
}

func TestCallSignalingRelay(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")
	bob := connectClient(t, srv, "bob")
	carol := connectClient(t, srv, "carol")

	// alice rings bob and carol in the group room.
	for _, to := range []string{"bob", "carol"} {
		require.NoError(t, alice.c.Emit(models.EvRing, models.Ring{
			To: to, RoomKey: "room-team", IsAudioOnly: false,
		}))
	}
	ring := waitFor[models.Ring](t, bob, models.EvRing)
	assert.Equal(t, "alice", ring.From)
	waitFor[models.Ring](t, carol, models.EvRing)

	// bob accepts first: echo carries no extra peers.
	require.NoError(t, bob.c.Emit(models.EvRingAccept, models.RingAccept{To: "alice", RoomKey: "room-team"}))
	echo := waitFor[models.RingAccept](t, bob, models.EvRingAccept)
	require.True(t, echo.IsAccepter)
	assert.Equal(t, "alice", echo.From)
	assert.Empty(t, echo.Peers)
	accept := waitFor[models.RingAccept](t, alice, models.EvRingAccept)
	assert.Equal(t, "bob", accept.From)
	assert.False(t, accept.IsAccepter)

	// carol accepts second: her echo lists bob as an existing member.
	require.NoError(t, carol.c.Emit(models.EvRingAccept, models.RingAccept{To: "alice", RoomKey: "room-team"}))
	echo = waitFor[models.RingAccept](t, carol, models.EvRingAccept)
	require.True(t, echo.IsAccepter)
	assert.Equal(t, []string{"bob"}, echo.Peers)

	// Offers relay with the sender stamped.
	require.NoError(t, bob.c.Emit(models.EvOffer, models.SDPSignal{
		To: "alice", RoomKey: "room-team",
		Offer: &models.SessionDescription{Type: "offer", SDP: "sdp-b"},
	}))
	offer := waitFor[models.SDPSignal](t, alice, models.EvOffer)
	assert.Equal(t, "bob", offer.From)
	require.NotNil(t, offer.Offer)
	assert.Equal(t, "sdp-b", offer.Offer.SDP)

	// Hangup relays end and shrinks the active list.
	require.NoError(t, bob.c.Emit(models.EvEnd, models.End{To: "alice", RoomKey: "room-team"}))
	end := waitFor[models.End](t, alice, models.EvEnd)
	assert.Equal(t, "bob", end.From)
}

func TestScreenShareReplayToAccepter(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")
	bob := connectClient(t, srv, "bob")
	carol := connectClient(t, srv, "carol")

	require.NoError(t, alice.c.Emit(models.EvRing, models.Ring{To: "bob", RoomKey: "room-team"}))
	waitFor[models.Ring](t, bob, models.EvRing)
	require.NoError(t, bob.c.Emit(models.EvRingAccept, models.RingAccept{To: "alice", RoomKey: "room-team"}))
	waitFor[models.RingAccept](t, alice, models.EvRingAccept)

	// alice starts sharing; bob is told.
	require.NoError(t, alice.c.Emit(models.EvScreenShare, models.ScreenShare{RoomKey: "room-team", IsSharing: true}))
	update := waitFor[models.ScreenShare](t, bob, models.EvScreenShareUpdate)
	assert.Equal(t, "alice", update.UserID)
	assert.True(t, update.IsSharing)

	// carol joins late: her accept echo replays the live share state.
	require.NoError(t, alice.c.Emit(models.EvRing, models.Ring{To: "carol", RoomKey: "room-team"}))
	waitFor[models.Ring](t, carol, models.EvRing)
	require.NoError(t, carol.c.Emit(models.EvRingAccept, models.RingAccept{To: "alice", RoomKey: "room-team"}))
	echo := waitFor[models.RingAccept](t, carol, models.EvRingAccept)
	require.NotNil(t, echo.ScreenSharing)
	assert.Equal(t, "alice", echo.ScreenSharing.UserID)
	assert.True(t, echo.ScreenSharing.IsSharing)
}

func TestDisconnect_NotifiesCallPeers(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")
	bob := connectClient(t, srv, "bob")

	require.NoError(t, alice.c.Emit(models.EvRing, models.Ring{To: "bob", RoomKey: "room-team"}))
	waitFor[models.Ring](t, bob, models.EvRing)
	require.NoError(t, bob.c.Emit(models.EvRingAccept, models.RingAccept{To: "alice", RoomKey: "room-team"}))
	waitFor[models.RingAccept](t, alice, models.EvRingAccept)

	alice.c.Close()

	end := waitFor[models.End](t, bob, models.EvEnd)
	assert.Equal(t, "alice", end.From)
	status := waitFor[models.UserStatus](t, bob, models.EvUserStatus)
	assert.Equal(t, models.UserStatus{UserID: "alice", IsOnline: false}, status)
}

func TestRTCRelay_RequiresTargetMembership(t *testing.T) {
	_, srv := seededHub(t)
	alice := connectClient(t, srv, "alice")
	carol := connectClient(t, srv, "carol")

	// carol is not a room-dm participant; a member must not be able to aim
	// signaling at her through that room.
	require.NoError(t, alice.c.Emit(models.EvOffer, models.SDPSignal{
		To: "carol", RoomKey: "room-dm",
		Offer: &models.SessionDescription{Type: "offer", SDP: "sdp"},
	}))
	require.NoError(t, alice.c.Emit(models.EvRing, models.Ring{To: "carol", RoomKey: "room-dm"}))

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case got := <-carol.events:
			require.NotEqual(t, models.EvOffer, got.event, "offer relayed to a non-member")
			require.NotEqual(t, models.EvRing, got.event, "ring relayed to a non-member")
		case <-deadline:
			return
		}
	}
}

func TestRejectsBadToken(t *testing.T) {
	_, srv := seededHub(t)
	c := transport.New("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", "garbage", zerolog.Nop(), transport.Options{})
	assert.Error(t, c.Connect(context.Background()))
}

func TestMetricsExposed(t *testing.T) {
	_, srv := seededHub(t)
	connectClient(t, srv, "alice")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "teamchat_hub_connected_users 1")
}
