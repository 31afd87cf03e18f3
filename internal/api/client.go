// Package api is the REST side of the chat backend: room list, paginated
// message history and file upload. Real-time traffic rides the signaling
// transport instead.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"teamchat/internal/models"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	base  string
	token string
	http  *http.Client
	log   zerolog.Logger
}

func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: defaultTimeout},
		log:   log.With().Str("component", "api").Logger(),
	}
}

// Rooms fetches the authenticated user's room list.
func (c *Client) Rooms(ctx context.Context) ([]models.Room, error) {
	var body struct {
		Rooms []models.Room `json:"rooms"`
	}
	if err := c.get(ctx, "/chat/rooms", nil, &body); err != nil {
		return nil, err
	}
	return body.Rooms, nil
}

// HistoryPage is one page of message history. RoomKey tags the page with the
// room it was requested for, so a caller that switched rooms while the fetch
// was in flight can discard the stale result.
type HistoryPage struct {
	RoomKey  string
	Messages []models.Message
	HasMore  bool
}

// Messages fetches history for a room, newest page when before is empty,
// strictly older messages otherwise. before is an RFC3339 timestamp cursor.
func (c *Client) Messages(ctx context.Context, roomKey, before string, limit int) (HistoryPage, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var body struct {
		Messages []models.Message `json:"messages"`
		HasMore  bool             `json:"hasMore"`
	}
	path := "/chat/rooms/" + url.PathEscape(roomKey) + "/messages"
	if err := c.get(ctx, path, q, &body); err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{RoomKey: roomKey, Messages: body.Messages, HasMore: body.HasMore}, nil
}

// Upload pushes a file and returns the attachment stub to embed in a message.
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader) (models.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return models.Attachment{}, ErrRequestFailed.WithDetails(err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return models.Attachment{}, ErrRequestFailed.WithDetails(err)
	}
	if err := mw.Close(); err != nil {
		return models.Attachment{}, ErrRequestFailed.WithDetails(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/upload", &buf)
	if err != nil {
		return models.Attachment{}, ErrRequestFailed.WithDetails(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var att models.Attachment
	if err := c.do(req, &att); err != nil {
		return models.Attachment{}, err
	}
	return att, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ErrRequestFailed.WithDetails(err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ErrRequestFailed.WithDetails(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return ErrRequestFailed.WithDetails(fmt.Sprintf("%s (%d)", apiErr.Message, resp.StatusCode))
		}
		return ErrRequestFailed.WithDetails(fmt.Sprintf("status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ErrBadResponse.WithDetails(err)
	}
	return nil
}
