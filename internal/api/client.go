// Package api is a typed client for the messaging REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/session"
)

// ErrUnauthorized is returned for 401 answers; the stored token is stale.
var ErrUnauthorized = errors.New("api: unauthorized")

// Error is a non-2xx answer.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Query selects messages. Zero fields are omitted.
type Query struct {
	Page       int
	Limit      int
	SenderID   uint
	ReceiverID uint
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.SenderID != 0 {
		v.Set("senderId", strconv.FormatUint(uint64(q.SenderID), 10))
	}
	if q.ReceiverID != 0 {
		v.Set("receiverId", strconv.FormatUint(uint64(q.ReceiverID), 10))
	}
	return v
}

// Client talks to the messaging service on behalf of one session.
type Client struct {
	session *session.Session
}

func New(s *session.Session) *Client {
	return &Client{session: s}
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type messageList struct {
	Messages []models.Message `json:"messages"`
}

// ListMessages returns the caller's messages, newest first.
func (c *Client) ListMessages(ctx context.Context, q Query) ([]models.Message, error) {
	var out envelope[messageList]
	if err := c.do(ctx, http.MethodGet, "/messages", q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Messages, nil
}

// ListGroupMessages returns up to limit group messages, oldest first.
func (c *Client) ListGroupMessages(ctx context.Context, groupID uint, limit int) ([]models.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out envelope[messageList]
	path := "/message-groups/" + strconv.FormatUint(uint64(groupID), 10) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Messages, nil
}

// UpdateMessageStatus sets a message read or unread.
func (c *Client) UpdateMessageStatus(ctx context.Context, messageID uint, status string) error {
	body := models.UpdateMessageStatusRequest{Status: status}
	path := "/messages/" + strconv.FormatUint(uint64(messageID), 10)
	return c.do(ctx, http.MethodPut, path, nil, body, nil)
}

// SendMessage persists a direct message and returns it with its id.
func (c *Client) SendMessage(ctx context.Context, receiverID uint, content string) (*models.Message, error) {
	var out envelope[models.Message]
	body := models.CreateMessageRequest{ReceiverID: receiverID, Content: content}
	if err := c.do(ctx, http.MethodPost, "/messages", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// SendGroupMessage persists a group message and returns it with its id.
func (c *Client) SendGroupMessage(ctx context.Context, groupID uint, content string) (*models.Message, error) {
	var out envelope[models.Message]
	body := models.CreateGroupMessageRequest{Content: content}
	path := "/message-groups/" + strconv.FormatUint(uint64(groupID), 10) + "/messages/"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// UserStatus returns the presence of one user.
func (c *Client) UserStatus(ctx context.Context, userID uint) (*models.UserStatusResponse, error) {
	q := url.Values{"userId": {strconv.FormatUint(uint64(userID), 10)}}
	var out envelope[models.UserStatusResponse]
	if err := c.do(ctx, http.MethodGet, "/api/user-status", q, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.session.URL(path, query), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := c.session.Authorize(req); err != nil {
		return err
	}

	resp, err := c.session.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Message = payload.Message
	}
	return apiErr
}
