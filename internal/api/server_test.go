package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yacs/internal/auth"
	"yacs/internal/blob"
	"yacs/internal/captcha"
	"yacs/internal/database"
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
	maxUpload   = 16
)

type fixedGenerator struct{}

func (fixedGenerator) Generate() (string, []byte, error) {
	return captchaText, []byte("\x89PNG"), nil
}

type discardQueue struct{}

func (discardQueue) Submit(*types.MessageSendEvent) error { return nil }

type testEnv struct {
	server   *Server
	sessions *session.Registry
	storage  *database.Manager
	blobs    *blob.Store
	cache    *captcha.Cache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbCfg := dbconfig.DefaultConfig()
	dbCfg.DatabasePath = filepath.Join(t.TempDir(), "api.db")
	dbCfg.WriteRetryDelay = 10 * time.Millisecond
	storage, err := database.NewManager(dbCfg)
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(storage.GetDB()).ApplyMigrations())
	t.Cleanup(func() { _ = storage.Close() })

	blobs, err := blob.NewStore(filepath.Join(t.TempDir(), "resource"))
	require.NoError(t, err)

	cache, err := captcha.NewCache(60, 120*time.Second)
	require.NoError(t, err)

	transport := websocket.NewRegistry()
	sessions := session.NewRegistry(session.Config{Timeout: 5 * time.Second, MaxUploadBytes: maxUpload}, transport)
	protocol := router.NewRouter(sessions, storage, transport, discardQueue{})

	server := NewServer(Options{
		Sessions:       sessions,
		Storage:        storage,
		Blobs:          blobs,
		Protocol:       protocol,
		Challenges:     cache,
		Generator:      fixedGenerator{},
		Passphrases:    auth.NewMatcher(auth.Passphrases{Admin: adminPhrase, User: userPhrase}),
		Guard:          auth.NewGuard(sessions),
		Registry:       transport,
		Room:           RoomSettings{Title: "Lobby", MOTD: "be nice"},
		MaxUploadBytes: maxUpload,
	})

	return &testEnv{server: server, sessions: sessions, storage: storage, blobs: blobs, cache: cache}
}

func (e *testEnv) do(method, path string, body io.Reader, contentType, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) json(method, path string, v interface{}, authorization string) *httptest.ResponseRecorder {
	var body io.Reader
	if v != nil {
		raw, _ := json.Marshal(v)
		body = bytes.NewReader(raw)
	}
	return e.do(method, path, body, "application/json", authorization)
}

func (e *testEnv) issueChallenge(t *testing.T) string {
	t.Helper()
	rec := e.do(http.MethodGet, "/api/captcha", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["identifier"])
	return resp["identifier"]
}

func (e *testEnv) login(t *testing.T, nick, phrase string) string {
	t.Helper()
	rec := e.json(http.MethodPost, "/auth", map[string]string{
		"nick": nick, "phrase": phrase, "captcha": captchaText, "identifier": e.issueChallenge(t),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return "Bearer " + nick + " " + resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_IssueCaptcha(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/captcha", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string]string](t, rec)
	assert.True(t, env.cache.Contains(resp["identifier"]))
	assert.Equal(t, "iVBORw==", resp["image"])
}

func TestLogin_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.json(http.MethodPost, "/auth", map[string]string{
		"nick": "alice", "phrase": userPhrase, "captcha": captchaText, "identifier": env.issueChallenge(t),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[loginResponse](t, rec)
	assert.Equal(t, "alice", resp.Nick)
	assert.NotEmpty(t, resp.Token)
	assert.False(t, resp.IsAdmin)

	info, ok := env.sessions.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, types.RoleUser, info.Role)
	assert.Equal(t, types.NoChannel, info.Channel)

	env.login(t, "root", adminPhrase)
	info, ok = env.sessions.Lookup("root")
	require.True(t, ok)
	assert.Equal(t, types.RoleAdmin, info.Role)
}

func TestLogin_FormEncoded(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{
		"nick": {"carol"}, "phrase": {userPhrase}, "captcha": {captchaText}, "identifier": {env.issueChallenge(t)},
	}
	rec := env.do(http.MethodPost, "/auth", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLogin_WrongPassphraseKeepsChallenge(t *testing.T) {
	env := newTestEnv(t)
	id := env.issueChallenge(t)

	rec := env.json(http.MethodPost, "/auth", map[string]string{
		"nick": "alice", "phrase": "nope", "captcha": captchaText, "identifier": id,
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, env.cache.Contains(id))
}

func TestLogin_WrongCaptchaConsumesChallenge(t *testing.T) {
	env := newTestEnv(t)
	id := env.issueChallenge(t)

	rec := env.json(http.MethodPost, "/auth", map[string]string{
		"nick": "alice", "phrase": userPhrase, "captcha": "ABCD", "identifier": id,
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.json(http.MethodPost, "/auth", map[string]string{
		"nick": "alice", "phrase": userPhrase, "captcha": captchaText, "identifier": id,
	}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "challenge is single-use")
	assert.Zero(t, env.sessions.Count())
}

func TestLogin_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice", userPhrase)

	rec := env.json(http.MethodPost, "/auth", map[string]string{
		"nick": "alice", "phrase": userPhrase, "captcha": captchaText, "identifier": env.issueChallenge(t),
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "User exists")

	rec = env.json(http.MethodPost, "/auth", map[string]string{
		"nick": "a-b", "phrase": userPhrase, "captcha": captchaText, "identifier": env.issueChallenge(t),
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomView(t *testing.T) {
	env := newTestEnv(t)
	authz := env.login(t, "alice", userPhrase)
	token := strings.Fields(authz)[2]

	rec := env.json(http.MethodPost, "/room", map[string]string{"nick": "alice", "token": token}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "Lobby", resp["title"])
	assert.Equal(t, "be nice", resp["motd"])
	assert.Equal(t, false, resp["is_admin"])
	assert.Equal(t, []interface{}{}, resp["emoticons"])

	rec = env.json(http.MethodPost, "/room", map[string]string{"nick": "alice", "token": "forged"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoomView_SweepsExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	authz := env.login(t, "alice", userPhrase)
	token := strings.Fields(authz)[2]

	env.server.now = func() time.Time { return time.Now().Add(time.Minute) }

	rec := env.json(http.MethodPost, "/room", map[string]string{"nick": "alice", "token": token}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	_, ok := env.sessions.Lookup("alice")
	assert.False(t, ok)
}

func TestGuard(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, "alice", userPhrase)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/channels", nil, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/channels", nil, "", "Bearer alice").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/channels", nil, "", "Bearer alice wrong").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/channels", nil, "", user).Code)

	rec := env.do(http.MethodGet, "/online", nil, "", user)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "administrator")
}

func TestChannels_AdminLifecycle(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, "alice", userPhrase)
	admin := env.login(t, "root", adminPhrase)

	rec := env.json(http.MethodPost, "/channel", map[string]string{"name": "staff"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[map[string]int64](t, rec)["id"]
	assert.Equal(t, int64(2), id)

	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/channel/2/privacy", nil, "", admin).Code)

	userList := decode[[]types.Channel](t, env.do(http.MethodGet, "/channels", nil, "", user))
	require.Len(t, userList, 1)
	assert.Equal(t, "Default Channel", userList[0].Name)

	adminList := decode[[]types.Channel](t, env.do(http.MethodGet, "/channels", nil, "", admin))
	require.Len(t, adminList, 2)
	assert.True(t, adminList[1].IsAdminOnly)

	require.Equal(t, http.StatusOK, env.json(http.MethodPut, "/channel/2", map[string]string{"name": "ops"}, admin).Code)
	adminList = decode[[]types.Channel](t, env.do(http.MethodGet, "/channels", nil, "", admin))
	assert.Equal(t, "ops", adminList[1].Name)

	require.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/channel/2", nil, "", admin).Code)
	adminList = decode[[]types.Channel](t, env.do(http.MethodGet, "/channels", nil, "", admin))
	assert.Len(t, adminList, 1)
}

func TestChannels_AdminErrors(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", adminPhrase)

	assert.Equal(t, http.StatusBadRequest, env.json(http.MethodPost, "/channel", map[string]string{"name": ""}, admin).Code)
	assert.Equal(t, http.StatusBadRequest, env.json(http.MethodPut, "/channel/abc", map[string]string{"name": "x"}, admin).Code)
	assert.Equal(t, http.StatusBadRequest, env.json(http.MethodPut, "/channel/99", map[string]string{"name": "x"}, admin).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodDelete, "/channel/99", nil, "", admin).Code)
}

func TestMessages(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, "alice", userPhrase)
	ctx := context.Background()

	first, err := env.storage.InsertMessage(ctx, "<b>one</b>", 1, "alice")
	require.NoError(t, err)
	second, err := env.storage.InsertMessage(ctx, "two", 1, "bob")
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/messages/1", nil, "", user)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]types.MessageDelivery](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, second.ID, msgs[0].ID)
	assert.Equal(t, first.ID, msgs[1].ID)
	assert.Equal(t, "<b>one</b>", msgs[1].Body)
	assert.Len(t, msgs[0].Datetime, len(types.DatetimeLayout))

	msgs = decode[[]types.MessageDelivery](t, env.do(http.MethodGet, "/messages/1?count=1&offset=1", nil, "", user))
	require.Len(t, msgs, 1)
	assert.Equal(t, first.ID, msgs[0].ID)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/messages/0", nil, "", user).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/messages/1?count=-1", nil, "", user).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/messages/42", nil, "", user).Code)

	id, err := env.storage.CreateChannel(ctx, "staff")
	require.NoError(t, err)
	require.NoError(t, env.storage.ToggleChannelPrivacy(ctx, id))
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/messages/2", nil, "", user).Code)
}

func multipartFile(t *testing.T, name string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploads_SubmitAndServe(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, "alice", userPhrase)

	body, ct := multipartFile(t, "Notes.TXT", []byte("hello there"))
	rec := env.do(http.MethodPost, "/index_upload", body, ct, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["uuid"]
	require.NotEmpty(t, id)

	rec = env.json(http.MethodPost, "/submit_upload", map[string]string{"action": "submit", "id": id}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := os.ReadFile(env.blobs.Path(id, "Notes.TXT"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(stored))

	meta := decode[map[string]string](t, env.do(http.MethodGet, "/resource_meta/"+id, nil, "", ""))
	assert.Equal(t, "Notes.TXT", meta["filename"])
	assert.Equal(t, "application/octet-stream", meta["mime"])

	rec = env.do(http.MethodGet, "/resource/"+id, nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello there", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Notes.TXT"`)

	rec = env.json(http.MethodPost, "/submit_upload", map[string]string{"action": "submit", "id": id}, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "staged upload is consumed by submit")
}

func TestUploads_RecallAndRejections(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", userPhrase)
	bob := env.login(t, "bob", userPhrase)

	body, ct := multipartFile(t, "a.png", []byte("tiny"))
	rec := env.do(http.MethodPost, "/index_upload", body, ct, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[map[string]string](t, rec)["uuid"]

	assert.Equal(t, http.StatusBadRequest,
		env.json(http.MethodPost, "/submit_upload", map[string]string{"action": "recall", "id": id}, bob).Code,
		"uploads belong to the staging session")
	assert.Equal(t, http.StatusBadRequest,
		env.json(http.MethodPost, "/submit_upload", map[string]string{"action": "publish", "id": id}, alice).Code)
	assert.Equal(t, http.StatusOK,
		env.json(http.MethodPost, "/submit_upload", map[string]string{"action": "recall", "id": id}, alice).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.json(http.MethodPost, "/submit_upload", map[string]string{"action": "submit", "id": id}, alice).Code)

	body, ct = multipartFile(t, "big.bin", bytes.Repeat([]byte("x"), maxUpload+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, env.do(http.MethodPost, "/index_upload", body, ct, alice).Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/index_upload", nil, "", alice).Code)

	// The upload lock is released on every path
	require.NoError(t, env.sessions.BeginUpload("alice"))
	env.sessions.ReleaseUploadLock("alice")
}

func TestUploads_BusyWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", userPhrase)

	require.NoError(t, env.sessions.BeginUpload("alice"))
	defer env.sessions.ReleaseUploadLock("alice")

	body, ct := multipartFile(t, "a.txt", []byte("x"))
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodPost, "/index_upload", body, ct, alice).Code)
}

func TestUploads_LockHeldWhileBodyStreams(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", userPhrase)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- env.do(http.MethodPost, "/index_upload", pr, mw.FormDataContentType(), alice)
	}()

	// The pipe only accepts bytes once the handler is reading the body
	part, err := mw.CreateFormFile("file", "slow.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("half"))
	require.NoError(t, err)

	body, ct := multipartFile(t, "b.txt", []byte("x"))
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodPost, "/index_upload", body, ct, alice).Code,
		"second upload from the same session while the first is streaming")

	_, err = part.Write([]byte(" done"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	require.NoError(t, pw.Close())

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("streaming upload never finished")
	}
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	id := decode[map[string]string](t, rec)["uuid"]
	staged, err := env.sessions.TakePending("alice", id)
	require.NoError(t, err)
	assert.Equal(t, "half done", string(staged.Data))

	body, ct = multipartFile(t, "c.txt", []byte("y"))
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/index_upload", body, ct, alice).Code,
		"lock released after the streamed upload")
}

func TestUploads_OversizedBodyIsCutOff(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", userPhrase)

	body, ct := multipartFile(t, "huge.bin", bytes.Repeat([]byte("x"), 2*multipartOverhead))
	assert.Equal(t, http.StatusRequestEntityTooLarge, env.do(http.MethodPost, "/index_upload", body, ct, alice).Code)

	require.NoError(t, env.sessions.BeginUpload("alice"), "lock released after rejection")
	env.sessions.ReleaseUploadLock("alice")
}

func TestResources_Expire(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", adminPhrase)
	require.NoError(t, env.storage.InsertResource(context.Background(), &types.Resource{ID: "r1", FileName: "f.txt", MimeType: "text/plain"}))

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/resource_meta/r1", nil, "", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/resource/r1", nil, "", admin).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/resource_meta/r1", nil, "", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/resource/r1", nil, "", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodDelete, "/resource/missing", nil, "", admin).Code)
}

func TestAdmin_KickAndOnline(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", adminPhrase)
	env.login(t, "bob", userPhrase)

	online := decode[[]types.SessionInfo](t, env.do(http.MethodGet, "/online", nil, "", admin))
	require.Len(t, online, 2)
	assert.Equal(t, "bob", online[0].Nickname)

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/online/bob", nil, "", admin).Code)
	_, ok := env.sessions.Lookup("bob")
	assert.False(t, ok)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodDelete, "/online/bob", nil, "", admin).Code)
}

func TestAdmin_DeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "root", adminPhrase)
	ctx := context.Background()

	require.NoError(t, env.storage.InsertResource(ctx, &types.Resource{ID: "att", FileName: "a.png", MimeType: "image/png"}))
	msg, err := env.storage.InsertMessage(ctx, "bye", 1, "bob")
	require.NoError(t, err)
	require.NoError(t, env.storage.LinkAttachment(ctx, msg.ID, "att"))

	rec := env.do(http.MethodDelete, "/message/"+strconv.FormatInt(msg.ID, 10), nil, "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(http.MethodDelete, "/message/"+strconv.FormatInt(msg.ID, 10), nil, "", admin).Code,
		"a deleted message cannot be deleted again")

	msgs, err := env.storage.FetchMessages(ctx, 1, 30, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = env.storage.GetResource(ctx, "att")
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodDelete, "/message/9999", nil, "", admin).Code)
}
