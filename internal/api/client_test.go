package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/rooms", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rooms":[
			{"id":"room-a","name":"Project Alpha","type":"group"},
			{"id":"room-b","name":"General","type":"public"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", zerolog.Nop())
	rooms, err := c.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "room-a", rooms[0].Key)
	assert.Equal(t, "Project Alpha", rooms[0].Name)
}

func TestMessages_CursorAndTag(t *testing.T) {
	cursor := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/rooms/room-a/messages", r.URL.Path)
		assert.Equal(t, cursor, r.URL.Query().Get("before"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"messages":[{"id":"m1","roomKey":"room-a","text":"hi"}],"hasMore":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", zerolog.Nop())
	page, err := c.Messages(context.Background(), "room-a", cursor, 50)
	require.NoError(t, err)
	assert.Equal(t, "room-a", page.RoomKey, "page is tagged with its room")
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m1", page.Messages[0].ID)
}

func TestMessages_NewestPageOmitsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("before"))
		w.Write([]byte(`{"messages":[],"hasMore":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", zerolog.Nop())
	page, err := c.Messages(context.Background(), "room-a", "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "report.pdf", header.Filename)
		w.Write([]byte(`{"url":"/files/abc","fileName":"report.pdf"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", zerolog.Nop())
	att, err := c.Upload(context.Background(), "report.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "/files/abc", att.URL)
	assert.Equal(t, "report.pdf", att.FileName)
}

func TestErrorPayloadSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"database unavailable"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", zerolog.Nop())
	_, err := c.Rooms(context.Background())
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token", zerolog.Nop())
	_, err := c.Rooms(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
