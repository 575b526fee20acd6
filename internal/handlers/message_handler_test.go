package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type messageFixture struct {
	handler  *MessageHandler
	messages *fakeMessages
	presence repositories.PresenceStore
	notifier *recordingNotifier
}

func newMessageFixture() *messageFixture {
	users := testUsers()
	messages := newFakeMessages(users)
	groups := &fakeGroups{
		groups:  map[uint]models.Group{10: {ID: 10, Name: "Voisins"}},
		members: map[uint][]uint{10: {1, 2}},
	}
	presence := repositories.NewMemoryPresenceStore()
	notifier := newRecordingNotifier()
	return &messageFixture{
		handler:  NewMessageHandler(messages, users, groups, presence, notifier, zap.NewNop()),
		messages: messages,
		presence: presence,
		notifier: notifier,
	}
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	return httpErr.Code
}

func TestCreateMessage_PersistsAndPushesWhenOffline(t *testing.T) {
	f := newMessageFixture()
	c, rec := newContext(http.MethodPost, "/messages", `{"receiver_id":2,"content":"Bonjour"}`, 1)

	require.NoError(t, f.handler.CreateMessage(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Success bool           `json:"success"`
		Data    models.Message `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, uint(1), body.Data.ID)
	assert.Equal(t, "Bonjour", body.Data.Content)
	assert.Equal(t, models.StatusUnread, body.Data.Status)
	assert.Equal(t, uint(1), body.Data.Sender.ID)
	require.NotNil(t, body.Data.Receiver)
	assert.Equal(t, uint(2), body.Data.Receiver.ID)
	assert.Nil(t, body.Data.Group)

	select {
	case <-f.notifier.done:
	case <-time.After(time.Second):
		t.Fatal("offline receiver was not pushed")
	}
	assert.Equal(t, []uint{1}, f.notifier.sent)
}

func TestCreateMessage_NoPushWhenOnline(t *testing.T) {
	f := newMessageFixture()
	require.NoError(t, f.presence.SetOnline(t.Context(), 2))
	c, _ := newContext(http.MethodPost, "/messages", `{"receiver_id":2,"content":"Salut"}`, 1)

	require.NoError(t, f.handler.CreateMessage(c))

	select {
	case <-f.notifier.done:
		t.Fatal("online receiver must not be pushed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateMessage_Rejects(t *testing.T) {
	f := newMessageFixture()

	cases := []struct {
		name string
		body string
		user uint
		code int
	}{
		{"unauthenticated", `{"receiver_id":2,"content":"x"}`, 0, http.StatusUnauthorized},
		{"empty content", `{"receiver_id":2,"content":""}`, 1, http.StatusBadRequest},
		{"self", `{"receiver_id":1,"content":"x"}`, 1, http.StatusBadRequest},
		{"unknown receiver", `{"receiver_id":99,"content":"x"}`, 1, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newContext(http.MethodPost, "/messages", tc.body, tc.user)
			assert.Equal(t, tc.code, httpCode(t, f.handler.CreateMessage(c)))
		})
	}
}

func TestGetMessages_ConversationFilter(t *testing.T) {
	f := newMessageFixture()
	now := time.Now()
	for _, m := range []models.Message{
		{SenderID: 1, ReceiverID: uintPtr(2), Content: "a", DateSent: now},
		{SenderID: 2, ReceiverID: uintPtr(1), Content: "b", DateSent: now.Add(time.Second)},
		{SenderID: 3, ReceiverID: uintPtr(1), Content: "c", DateSent: now.Add(2 * time.Second)},
		{SenderID: 2, ReceiverID: uintPtr(3), Content: "d", DateSent: now.Add(3 * time.Second)},
	} {
		require.NoError(t, f.messages.CreateMessage(&m))
	}

	decode := func(rec []byte) []string {
		var body struct {
			Data struct {
				Messages []models.Message `json:"messages"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec, &body))
		var contents []string
		for _, m := range body.Data.Messages {
			contents = append(contents, m.Content)
		}
		return contents
	}

	c, rec := newContext(http.MethodGet, "/messages?page=1&limit=100", "", 1)
	require.NoError(t, f.handler.GetMessages(c))
	assert.Equal(t, []string{"c", "b", "a"}, decode(rec.Body.Bytes()))

	c, rec = newContext(http.MethodGet, "/messages?limit=500&senderId=1&receiverId=2", "", 1)
	require.NoError(t, f.handler.GetMessages(c))
	assert.Equal(t, []string{"b", "a"}, decode(rec.Body.Bytes()))

	c, _ = newContext(http.MethodGet, "/messages?senderId=2&receiverId=3", "", 1)
	assert.Equal(t, http.StatusForbidden, httpCode(t, f.handler.GetMessages(c)))
}

func TestUpdateMessageStatus_OnlyReceiver(t *testing.T) {
	f := newMessageFixture()
	msg := &models.Message{SenderID: 1, ReceiverID: uintPtr(2), Content: "hi", Status: models.StatusUnread}
	require.NoError(t, f.messages.CreateMessage(msg))

	c, _ := newContext(http.MethodPut, "/messages/1", `{"status":"read"}`, 1)
	c.SetParamNames("id")
	c.SetParamValues("1")
	assert.Equal(t, http.StatusForbidden, httpCode(t, f.handler.UpdateMessageStatus(c)))

	c, rec := newContext(http.MethodPut, "/messages/1", `{"status":"read"}`, 2)
	c.SetParamNames("id")
	c.SetParamValues("1")
	require.NoError(t, f.handler.UpdateMessageStatus(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.messages.GetMessageByID(1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, stored.Status)

	c, _ = newContext(http.MethodPut, "/messages/1", `{"status":"seen"}`, 2)
	c.SetParamNames("id")
	c.SetParamValues("1")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, f.handler.UpdateMessageStatus(c)))

	c, _ = newContext(http.MethodPut, "/messages/42", `{"status":"read"}`, 2)
	c.SetParamNames("id")
	c.SetParamValues("42")
	assert.Equal(t, http.StatusNotFound, httpCode(t, f.handler.UpdateMessageStatus(c)))
}

func TestUpdateMessageStatus_GroupMember(t *testing.T) {
	f := newMessageFixture()
	msg := &models.Message{SenderID: 1, GroupID: uintPtr(10), Content: "hello all", Status: models.StatusUnread}
	require.NoError(t, f.messages.CreateMessage(msg))

	c, _ := newContext(http.MethodPut, "/messages/1", `{"status":"read"}`, 3)
	c.SetParamNames("id")
	c.SetParamValues("1")
	assert.Equal(t, http.StatusForbidden, httpCode(t, f.handler.UpdateMessageStatus(c)))

	c, _ = newContext(http.MethodPut, "/messages/1", `{"status":"read"}`, 2)
	c.SetParamNames("id")
	c.SetParamValues("1")
	assert.NoError(t, f.handler.UpdateMessageStatus(c))
}
