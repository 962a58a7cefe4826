package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"yacs/internal/api"
	"yacs/internal/auth"
	"yacs/internal/blob"
	"yacs/internal/captcha"
	"yacs/internal/database"
	"yacs/internal/hub"
	"yacs/internal/render"
	"yacs/internal/router"
	"yacs/internal/session"
	"yacs/internal/websocket"
	dbconfig "yacs/pkg/database"
	"yacs/pkg/types"
)

const (
	userPhrase  = "hello"
	adminPhrase = "world"
	captchaText = "abcd"
	waitFor     = 2 * time.Second
)

type fixedGenerator struct{}

func (fixedGenerator) Generate() (string, []byte, error) { return captchaText, []byte("png"), nil }

// stack is the whole server wired the way the application wires it
type stack struct {
	server   *httptest.Server
	sessions *session.Registry
	storage  *database.Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()

	dbCfg := dbconfig.DefaultConfig()
	dbCfg.DatabasePath = filepath.Join(t.TempDir(), "chat.db")
	dbCfg.WriteRetryDelay = 10 * time.Millisecond
	storage, err := database.NewManager(dbCfg)
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(storage.GetDB()).ApplyMigrations())

	blobs, err := blob.NewStore(filepath.Join(t.TempDir(), "resource"))
	require.NoError(t, err)
	challenges, err := captcha.NewCache(60, 2*time.Minute)
	require.NoError(t, err)

	registry := websocket.NewRegistry()
	sessions := session.NewRegistry(session.Config{Timeout: 5 * time.Second, MaxUploadBytes: 1 << 20}, registry)
	messageHub := hub.NewHub(sessions, storage, render.NewBBCode(), registry)
	protocol := router.NewRouter(sessions, storage, registry, messageHub)

	wsConfig := websocket.DefaultHandlerConfig()
	wsHandler := websocket.NewHandler(registry, protocol, wsConfig)

	apiServer := api.NewServer(api.Options{
		Sessions:    sessions,
		Storage:     storage,
		Blobs:       blobs,
		Protocol:    protocol,
		Challenges:  challenges,
		Generator:   fixedGenerator{},
		Passphrases: auth.NewMatcher(auth.Passphrases{Admin: adminPhrase, User: userPhrase}),
		Guard:       auth.NewGuard(sessions),
		Registry:    registry,
		WebSocket:   http.HandlerFunc(wsHandler.HandleWebSocket),
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, messageHub.Start(ctx))
	server := httptest.NewServer(apiServer)

	t.Cleanup(func() {
		server.Close()
		_ = messageHub.Stop()
		cancel()
		_ = storage.Close()
	})

	return &stack{server: server, sessions: sessions, storage: storage}
}

// client is one logged-in user
type client struct {
	nick  string
	token string
	conn  *gorilla.Conn
}

func (c *client) authorization() string {
	return "Bearer " + c.nick + " " + c.token
}

func (s *stack) login(t *testing.T, nick, phrase string) *client {
	t.Helper()

	resp, err := http.Get(s.server.URL + "/api/captcha")
	require.NoError(t, err)
	var challenge map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&challenge))
	_ = resp.Body.Close()

	body, _ := json.Marshal(map[string]string{
		"nick": nick, "phrase": phrase, "captcha": captchaText, "identifier": challenge["identifier"],
	})
	resp, err = http.Post(s.server.URL+"/auth", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	return &client{nick: nick, token: login.Token}
}

func (s *stack) dial(c *client) (*gorilla.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?" + url.Values{
		"nick": {c.nick}, "token": {c.token},
	}.Encode()
	return gorilla.DefaultDialer.Dial(u, nil)
}

func (s *stack) connect(t *testing.T, c *client) {
	t.Helper()
	conn, _, err := s.dial(c)
	require.NoError(t, err)
	c.conn = conn
	t.Cleanup(func() { _ = conn.Close() })
}

func (s *stack) do(t *testing.T, method, path string, c *client) int {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", c.authorization())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func (c *client) send(t *testing.T, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteJSON(types.Envelope{Event: event, Data: raw}))
}

func (c *client) switchTo(t *testing.T, channel int64) {
	t.Helper()
	c.send(t, types.EventSwitchChannel, types.SwitchChannelEvent{
		Credentials: types.Credentials{Nick: c.nick, Token: c.token},
		To:          channel,
	})
	c.expectPresence(t, types.EventJoining, c.nick)
}

func (c *client) say(t *testing.T, body string) {
	t.Helper()
	c.send(t, types.EventMessageSend, types.MessageSendEvent{Author: c.nick, Token: c.token, Body: body})
}

// expect reads until event arrives, skipping anything else
func (c *client) expect(t *testing.T, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		var env types.Envelope
		require.NoError(t, c.conn.ReadJSON(&env), "%s waiting for %s", c.nick, event)
		if env.Event == event {
			return env.Data
		}
	}
}

func (c *client) expectPresence(t *testing.T, event, target string) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		var env types.Envelope
		require.NoError(t, c.conn.ReadJSON(&env), "%s waiting for %s %s", c.nick, event, target)
		if env.Event != event {
			continue
		}
		var notice types.PresenceNotice
		require.NoError(t, json.Unmarshal(env.Data, &notice))
		if notice.Target == target {
			return
		}
	}
}

// expectSilence asserts nothing arrives within d; the connection is unusable afterwards
func (c *client) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(d)))
	var env types.Envelope
	err := c.conn.ReadJSON(&env)
	require.Error(t, err, "%s unexpectedly received %s", c.nick, env.Event)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected a read timeout, got %v", err)
}

// expectClosed reads until the server closes the socket
func (c *client) expectClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var netErr net.Error
			require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection was not closed")
			return
		}
	}
}
