package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat/internal/config"
	"teamchat/internal/hub"
	"teamchat/internal/models"
)

var testSecret = []byte("engine-test-secret")

func testHub(t *testing.T) *httptest.Server {
	t.Helper()
	h := hub.New(testSecret, zerolog.Nop())
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
	return srv
}

type testSession struct {
	engine *Engine
	rings  chan models.Ring
	ended  chan struct{}
}

func startEngine(t *testing.T, srv *httptest.Server, userID string) *testSession {
	t.Helper()
	token, err := hub.MintToken(testSecret, hub.Identity{UserID: userID, Username: userID, Role: "student"}, time.Hour)
	require.NoError(t, err)

	cfg := config.Config{
		ServerURL: srv.URL,
		SocketURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Token:     token,
	}
	ts := &testSession{
		rings: make(chan models.Ring, 4),
		ended: make(chan struct{}, 4),
	}
	notify := Notifications{
		OnIncomingRing: func(r models.Ring) { ts.rings <- r },
		OnCallEnded:    func() { ts.ended <- struct{}{} },
	}
	e, err := New(cfg, models.User{ID: userID, Username: userID, Role: "student"}, notify, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	ts.engine = e
	return ts
}

func roomKeys(rooms []models.Room) []string {
	keys := make([]string, 0, len(rooms))
	for _, r := range rooms {
		keys = append(keys, r.Key)
	}
	return keys
}

func TestStart_SyncsRooms(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")

	require.Eventually(t, func() bool {
		return len(alice.engine.Rooms()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"room-team", "room-dm"}, roomKeys(alice.engine.Rooms()))
}

func TestSend_EncryptedOnWirePlaintextInStores(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")
	bob := startEngine(t, srv, "bob")

	require.NoError(t, alice.engine.OpenRoom(context.Background(), "room-dm"))
	require.NoError(t, alice.engine.SendText(context.Background(), "room-dm", "secret plans"))

	// Both ends render the plaintext after the server echo.
	for _, ts := range []*testSession{alice, bob} {
		require.Eventually(t, func() bool {
			msgs := ts.engine.Messages("room-dm")
			return len(msgs) == 1 && msgs[0].Text == "secret plans"
		}, 2*time.Second, 10*time.Millisecond)
	}

	// The server only ever held ciphertext: carol is not a DM participant, but
	// a raw history fetch shows what is stored.
	stored := bob.engine.Messages("room-dm")[0]
	assert.True(t, stored.IsEncrypted)

	page, err := alice.engine.api.Messages(context.Background(), "room-dm", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsEncrypted)
	assert.NotEqual(t, "secret plans", page.Messages[0].Text)
	assert.NotContains(t, page.Messages[0].Text, "secret")
}

func TestSend_UnknownRoomRejectedLocally(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")

	require.Eventually(t, func() bool { return len(alice.engine.Rooms()) == 2 }, 2*time.Second, 10*time.Millisecond)
	err := alice.engine.SendText(context.Background(), "no-such-room", "hello")
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestUnread_CountsWhenRoomInactiveAndClearsOnOpen(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")
	bob := startEngine(t, srv, "bob")

	require.NoError(t, alice.engine.OpenRoom(context.Background(), "room-dm"))
	require.NoError(t, alice.engine.SendText(context.Background(), "room-dm", "first"))
	require.NoError(t, alice.engine.SendText(context.Background(), "room-dm", "second"))

	// Bob has not opened the DM, so the counter accumulates.
	require.Eventually(t, func() bool {
		for _, r := range bob.engine.Rooms() {
			if r.Key == "room-dm" {
				return r.UnreadCount == 2
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.engine.OpenRoom(context.Background(), "room-dm"))
	for _, r := range bob.engine.Rooms() {
		if r.Key == "room-dm" {
			assert.Zero(t, r.UnreadCount)
		}
	}

	// Opening flushed read receipts; alice sees her messages read by bob.
	require.Eventually(t, func() bool {
		msgs := alice.engine.Messages("room-dm")
		if len(msgs) != 2 {
			return false
		}
		for _, m := range msgs {
			if !contains(m.ReadBy, "bob") {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenRoom_LoadsAndDecryptsHistory(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")

	require.NoError(t, alice.engine.OpenRoom(context.Background(), "room-dm"))
	require.NoError(t, alice.engine.SendText(context.Background(), "room-dm", "for the record"))
	require.Eventually(t, func() bool {
		return len(alice.engine.Messages("room-dm")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A client connecting later pulls the page over REST and decrypts it.
	bob := startEngine(t, srv, "bob")
	require.NoError(t, bob.engine.OpenRoom(context.Background(), "room-dm"))
	msgs := bob.engine.Messages("room-dm")
	require.Len(t, msgs, 1)
	assert.Equal(t, "for the record", msgs[0].Text)
	assert.Equal(t, "alice", msgs[0].Sender.ID)
}

func TestDeleteForEveryone_TombstonesBothEnds(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")
	bob := startEngine(t, srv, "bob")

	require.NoError(t, alice.engine.OpenRoom(context.Background(), "room-dm"))
	require.NoError(t, alice.engine.SendText(context.Background(), "room-dm", "oops"))

	var msgID string
	require.Eventually(t, func() bool {
		msgs := bob.engine.Messages("room-dm")
		if len(msgs) != 1 {
			return false
		}
		msgID = msgs[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.engine.DeleteMessage(context.Background(), msgID, true))
	for _, ts := range []*testSession{alice, bob} {
		require.Eventually(t, func() bool {
			msgs := ts.engine.Messages("room-dm")
			return len(msgs) == 1 && msgs[0].IsDeleted
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestDelete_RejectsForeignMessage(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")
	bob := startEngine(t, srv, "bob")

	require.NoError(t, alice.engine.OpenRoom(context.Background(), "room-dm"))
	require.NoError(t, alice.engine.SendText(context.Background(), "room-dm", "mine"))

	var msgID string
	require.Eventually(t, func() bool {
		msgs := bob.engine.Messages("room-dm")
		if len(msgs) != 1 {
			return false
		}
		msgID = msgs[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	err := bob.engine.DeleteMessage(context.Background(), msgID, true)
	assert.ErrorIs(t, err, ErrSendRejected)
}

func TestCallDecline_SummaryReachesBothStores(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")
	bob := startEngine(t, srv, "bob")

	require.Eventually(t, func() bool {
		return len(alice.engine.Rooms()) == 2 && len(bob.engine.Rooms()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.engine.StartCall("room-dm", true))
	require.True(t, alice.engine.InCall())

	var ring models.Ring
	select {
	case ring = <-bob.rings:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never got the ring")
	}
	assert.Equal(t, "alice", ring.From)
	assert.True(t, ring.IsAudioOnly)

	require.NoError(t, bob.engine.DeclineCall(ring))

	select {
	case <-alice.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("alice's call never ended")
	}
	assert.False(t, alice.engine.InCall())

	// Only the initiator appends the summary message, once, for the room.
	for _, ts := range []*testSession{alice, bob} {
		require.Eventually(t, func() bool {
			msgs := ts.engine.Messages("room-dm")
			return len(msgs) == 1 &&
				msgs[0].Type == models.MsgAudioCall &&
				msgs[0].Meta != nil &&
				msgs[0].Meta.CallStatus == models.CallDeclined &&
				msgs[0].Meta.CallDuration == 0
		}, 2*time.Second, 10*time.Millisecond)
	}
}

func TestAcceptCall_SameRoomRingKeepsCallAlive(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")

	require.Eventually(t, func() bool {
		return len(alice.engine.Rooms()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.engine.StartCall("room-team", true))
	require.True(t, alice.engine.InCall())

	// A ring for the room of the ongoing call admits the newcomer; it must
	// not error and must not tear down the live call's media.
	err := alice.engine.AcceptCall(models.Ring{From: "bob", RoomKey: "room-team", IsAudioOnly: true})
	require.NoError(t, err)
	assert.True(t, alice.engine.InCall())
	_, err = alice.engine.ToggleMic()
	assert.NoError(t, err, "capture must survive admitting the newcomer")
}

func TestPresence_TracksPeerConnectivity(t *testing.T) {
	srv := testHub(t)
	alice := startEngine(t, srv, "alice")

	assert.False(t, alice.engine.Online("bob"))
	bob := startEngine(t, srv, "bob")
	require.Eventually(t, func() bool {
		return alice.engine.Online("bob")
	}, 2*time.Second, 10*time.Millisecond)

	bob.engine.Stop()
	require.Eventually(t, func() bool {
		return !alice.engine.Online("bob")
	}, 2*time.Second, 10*time.Millisecond)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
