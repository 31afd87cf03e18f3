package hub

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"teamchat/internal/models"
)

const maxUploadSize = 25 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dev hub serves local clients; the production gateway enforces its
	// own origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

type upload struct {
	fileName string
	mimeType string
	data     []byte
}

// Handler builds the hub's full HTTP surface: websocket upgrade, REST
// history endpoints, file uploads and metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.serveWS)
	mux.HandleFunc("GET /chat/rooms", h.withAuth(h.serveRooms))
	mux.HandleFunc("GET /chat/rooms/{key}/messages", h.withAuth(h.serveMessages))
	mux.HandleFunc("POST /chat/upload", h.withAuth(h.serveUpload))
	mux.HandleFunc("GET /files/{id}", h.serveFile)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"), r.URL.Query().Get("access_token"))
	id, err := ParseToken(h.secret, token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := newConn(h, ws, id)
	h.connect(c)
	go c.writePump()
	go c.readPump()
}

type authedHandler func(w http.ResponseWriter, r *http.Request, id Identity)

func (h *Hub) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"), r.URL.Query().Get("access_token"))
		id, err := ParseToken(h.secret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r, id)
	}
}

func (h *Hub) serveRooms(w http.ResponseWriter, r *http.Request, id Identity) {
	h.mu.Lock()
	rooms := h.st.snapshotFor(id.UserID, h.online)
	h.mu.Unlock()
	writeJSON(w, map[string]any{"rooms": rooms})
}

func (h *Hub) serveMessages(w http.ResponseWriter, r *http.Request, id Identity) {
	key := r.PathValue("key")

	h.mu.Lock()
	sr, ok := h.st.room(key)
	if !ok || !sr.isMember(id.UserID) {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, ErrUnknownRoom)
		return
	}
	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.mu.Unlock()
			writeError(w, http.StatusBadRequest, ErrBadPayload.WithDetails("bad before cursor"))
			return
		}
		before = t
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	page, hasMore := sr.history(before, limit)
	h.mu.Unlock()

	// Per-user hides stay hidden on refetch.
	visible := page[:0]
	for _, m := range page {
		hidden := false
		for _, u := range m.DeletedBy {
			if u == id.UserID {
				hidden = true
				break
			}
		}
		if !hidden {
			visible = append(visible, m)
		}
	}
	writeJSON(w, map[string]any{"messages": visible, "hasMore": hasMore})
}

func (h *Hub) serveUpload(w http.ResponseWriter, r *http.Request, id Identity) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, ErrBadPayload.WithDetails(err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrBadPayload.WithDetails(err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	fileID := uuid.NewString()
	h.mu.Lock()
	h.uploads[fileID] = upload{
		fileName: header.Filename,
		mimeType: header.Header.Get("Content-Type"),
		data:     data,
	}
	h.mu.Unlock()

	h.log.Debug().Str("user", id.UserID).Str("file", header.Filename).Int("bytes", len(data)).Msg("upload stored")
	writeJSON(w, models.Attachment{URL: "/files/" + fileID, FileName: header.Filename})
}

func (h *Hub) serveFile(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	up, ok := h.uploads[r.PathValue("id")]
	h.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if up.mimeType != "" {
		w.Header().Set("Content-Type", up.mimeType)
	}
	w.Write(up.data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
}
