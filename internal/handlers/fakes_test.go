package handlers

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/middleware"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
	"github.com/quartissimo/realtime/validators"
	"gorm.io/gorm"
)

type fakeUsers struct {
	users map[uint]models.User
}

func (f *fakeUsers) GetUserByID(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (f *fakeUsers) GetUsersByIDs(ids []uint) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUsers) SearchUsers(q string) ([]models.User, error) {
	var out []models.User
	for _, u := range f.users {
		if strings.Contains(strings.ToLower(u.DisplayName()), strings.ToLower(q)) {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeMessages struct {
	mu       sync.Mutex
	users    *fakeUsers
	messages map[uint]*models.Message
	nextID   uint
}

func newFakeMessages(users *fakeUsers) *fakeMessages {
	return &fakeMessages{users: users, messages: make(map[uint]*models.Message)}
}

func (f *fakeMessages) CreateMessage(m *models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	if u, ok := f.users.users[m.SenderID]; ok {
		m.Sender = u
	}
	if m.ReceiverID != nil {
		if u, ok := f.users.users[*m.ReceiverID]; ok {
			m.Receiver = &u
		}
	}
	stored := *m
	f.messages[m.ID] = &stored
	return nil
}

func (f *fakeMessages) GetMessageByID(id uint) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *m
	return &out, nil
}

func (f *fakeMessages) ListForUser(q repositories.MessageQuery) ([]models.Message, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages {
		s, r := m.SenderUserID(), m.ReceiverUserID()
		if q.PeerID != 0 {
			if !(s == q.UserID && r == q.PeerID) && !(s == q.PeerID && r == q.UserID) {
				continue
			}
		} else if s != q.UserID && r != q.UserID {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := int64(len(out))
	start := (q.Page - 1) * q.Limit
	if start > len(out) {
		start = len(out)
	}
	end := start + q.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (f *fakeMessages) ListForGroup(groupID uint, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages {
		if m.GroupRefID() == groupID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessages) UpdateStatus(id uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	m.Status = status
	return nil
}

type fakeGroups struct {
	groups  map[uint]models.Group
	members map[uint][]uint
}

func (f *fakeGroups) GetGroupByID(id uint) (*models.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &g, nil
}

func (f *fakeGroups) GetUserGroups(userID uint) ([]models.Group, error) {
	var out []models.Group
	for gid, ids := range f.members {
		for _, id := range ids {
			if id == userID {
				out = append(out, f.groups[gid])
			}
		}
	}
	return out, nil
}

func (f *fakeGroups) IsMember(groupID, userID uint) (bool, error) {
	for _, id := range f.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGroups) MemberIDs(groupID uint) ([]uint, error) {
	return f.members[groupID], nil
}

type fakePresenceLog struct {
	lastSeen map[uint]time.Time
}

func (f *fakePresenceLog) Record(context.Context, *models.PresenceEvent) error { return nil }

func (f *fakePresenceLog) LastSeen(_ context.Context, userID uint) (*time.Time, error) {
	t, ok := f.lastSeen[userID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []uint
	done chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, 8)}
}

func (r *recordingNotifier) NotifyOffline(_ context.Context, msg *models.Message) {
	r.mu.Lock()
	r.sent = append(r.sent, msg.ID)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func testUsers() *fakeUsers {
	return &fakeUsers{users: map[uint]models.User{
		1: {ID: 1, Firstname: "Alice", Lastname: "Martin"},
		2: {ID: 2, Firstname: "Bruno", Lastname: "Petit"},
		3: {ID: 3, Firstname: "Chloe", Lastname: "Durand"},
	}}
}

func newContext(method, target, body string, userID uint) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = validators.NewValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != 0 {
		c.Set(middleware.ContextUserKey, &models.JwtCustomClaims{UserID: userID})
	}
	return c, rec
}

func uintPtr(v uint) *uint { return &v }
