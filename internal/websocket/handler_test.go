package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/relay/internal/directory"
	"tempmail/relay/internal/domain"
)

type staticSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func (s *staticSessions) Get(address string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[address]
	if !ok || !session.Live(time.Now()) {
		return domain.Session{}, false
	}
	return session, true
}

// hookSessions 在第一次查询返回前、第二次查询开始前分别执行钩子
type hookSessions struct {
	next         SessionLookup
	afterFirst   func()
	beforeSecond func()

	mu    sync.Mutex
	calls int
}

func (h *hookSessions) Get(address string) (domain.Session, bool) {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()

	if n == 2 && h.beforeSecond != nil {
		h.beforeSecond()
	}
	session, ok := h.next.Get(address)
	if n == 1 && h.afterFirst != nil {
		h.afterFirst()
	}
	return session, ok
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type wireEvent struct {
	Type      EventType       `json:"type"`
	Email     string          `json:"email"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

func testMessage() *domain.Message {
	return &domain.Message{
		ID:      "msg-1",
		From:    "sender@remote.org",
		To:      "a@d.com",
		Subject: "Hello",
		Text:    "body",
		Attachments: []*domain.Attachment{
			{Filename: "a.txt", ContentType: "text/plain", Size: 3, Content: []byte("abc")},
		},
		ReceivedAt: time.Now().UTC(),
	}
}

func newTestServer(t *testing.T, heartbeat time.Duration) (*httptest.Server, *Registry, *staticSessions) {
	t.Helper()

	sessions := &staticSessions{sessions: map[string]domain.Session{
		"a@d.com": {Address: "a@d.com", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)},
	}}
	registry := NewRegistry(nil)
	return serveWebSocket(t, registry, sessions, heartbeat), registry, sessions
}

func serveWebSocket(t *testing.T, registry *Registry, sessions SessionLookup, heartbeat time.Duration) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ws", HandleWebSocket(registry, sessions, Options{Heartbeat: heartbeat}))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, email string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?email=" + email
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandleWebSocket_ConnectAndDeliver(t *testing.T) {
	srv, registry, _ := newTestServer(t, time.Second)

	conn, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	defer conn.Close()

	connected := readEvent(t, conn)
	assert.Equal(t, EventConnected, connected.Type)
	assert.Equal(t, "a@d.com", connected.Email)
	assert.False(t, connected.ExpiresAt.IsZero())
	assert.Equal(t, 1, registry.CountLive())

	NewNotifier(registry, nil, nil).Deliver("a@d.com", testMessage())

	ev := readEvent(t, conn)
	assert.Equal(t, EventEmail, ev.Type)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "msg-1", msg.ID)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, []byte("abc"), msg.Attachments[0].Content)
}

func TestHandleWebSocket_Rejects(t *testing.T) {
	srv, registry, _ := newTestServer(t, time.Second)

	_, resp, err := dial(t, srv, "missing@d.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 0, registry.CountLive())
}

func TestHandleWebSocket_RebindAndEvict(t *testing.T) {
	srv, registry, _ := newTestServer(t, time.Second)

	first, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	defer first.Close()
	readEvent(t, first)

	second, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	defer second.Close()
	readEvent(t, second)

	sub, ok := registry.Lookup("a@d.com")
	require.True(t, ok)
	assert.Equal(t, "a@d.com", sub.(*Client).Address)

	assert.True(t, registry.Evict("a@d.com", 0))

	ev := readEvent(t, second)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "mailbox expired", ev.Error)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	_, ok = registry.Lookup("a@d.com")
	assert.False(t, ok)
}

func TestHandleWebSocket_ClientDisconnectReleasesBinding(t *testing.T) {
	srv, registry, _ := newTestServer(t, time.Second)

	conn, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	readEvent(t, conn)

	conn.Close()

	assert.Eventually(t, func() bool {
		_, ok := registry.Lookup("a@d.com")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket_HeartbeatTerminatesSilentClient(t *testing.T) {
	srv, registry, _ := newTestServer(t, 50*time.Millisecond)

	conn, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn)

	// 不再读取，客户端不会回复 pong
	assert.Eventually(t, func() bool {
		_, ok := registry.Lookup("a@d.com")
		return !ok && registry.CountLive() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket_HeartbeatKeepsResponsiveClient(t *testing.T) {
	srv, registry, _ := newTestServer(t, 50*time.Millisecond)

	conn, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn)

	// 持续读取，默认的 ping 处理器会自动回复 pong
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, registry.CountLive())
}

func TestHandleWebSocket_SessionSweptDuringUpgrade(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	registry := NewRegistry(nil)
	dir := directory.New("d.com",
		directory.WithClock(clock.Now),
		directory.WithEvictor(registry),
		directory.WithLiveCounter(registry),
	)
	dir.Create("a")

	// 存活检查通过后、绑定之前会话过期并被清理
	sessions := &hookSessions{next: dir, afterFirst: func() {
		clock.Advance(2 * time.Hour)
		dir.Sweep()
	}}
	srv := serveWebSocket(t, registry, sessions, time.Second)

	conn, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, EventConnected, readEvent(t, conn).Type)
	ev := readEvent(t, conn)
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, "mailbox expired", ev.Error)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	_, ok := registry.Lookup("a@d.com")
	assert.False(t, ok)
	dir.Sweep()
	stats := dir.Stats()
	assert.Equal(t, 0, stats.ActiveEmails)
	assert.Equal(t, 0, stats.ActiveConnections)
}

func TestHandleWebSocket_ConnectedPrecedesEmail(t *testing.T) {
	registry := NewRegistry(nil)
	base := &staticSessions{sessions: map[string]domain.Session{
		"a@d.com": {Address: "a@d.com", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)},
	}}
	notifier := NewNotifier(registry, nil, nil)

	// 绑定刚完成时就有邮件到达
	sessions := &hookSessions{next: base, beforeSecond: func() {
		notifier.Deliver("a@d.com", testMessage())
	}}
	srv := serveWebSocket(t, registry, sessions, time.Second)

	conn, _, err := dial(t, srv, "a@d.com")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, EventConnected, readEvent(t, conn).Type)
	assert.Equal(t, EventEmail, readEvent(t, conn).Type)
	assert.Equal(t, 1, registry.CountLive())
}
