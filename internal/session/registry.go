package session

import (
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"yacs/pkg/interfaces"
	"yacs/pkg/types"
)

// DestroyReason is recorded in the logout log line
type DestroyReason string

const (
	ReasonKick    DestroyReason = "kick"
	ReasonTimeout DestroyReason = "timeout"
)

// Config holds the liveness and upload limits
type Config struct {
	Timeout        time.Duration
	MaxUploadBytes int64
}

// session is the mutable per-nickname state; only touched under Registry.mu
type session struct {
	nickname      string
	token         string
	role          types.Role
	lastHeartbeat time.Time
	channel       int64
	handle        string
	connected     bool
	uploadLock    bool
	pending       map[string]*PendingUpload
}

// Registry owns every live session and the channel membership index.
// ARCHITECTURAL DISCOVERY: One mutex guards sessions, membership and handles together
// so compound operations (destroy, switch) are observed atomically.
// Transport calls are made under the lock and must not block.
type Registry struct {
	config    Config
	transport interfaces.Transport

	sessions map[string]*session           // nickname -> session
	members  map[int64]map[string]struct{} // channel -> nicknames
	handles  map[string]string             // connection handle -> nickname
	mu       sync.Mutex
}

// NewRegistry creates an empty registry
func NewRegistry(config Config, transport interfaces.Transport) *Registry {
	return &Registry{
		config:    config,
		transport: transport,
		sessions:  make(map[string]*session),
		members:   make(map[int64]map[string]struct{}),
		handles:   make(map[string]string),
	}
}

// Authenticate reaps stale sessions, then creates a session and returns its token
func (r *Registry) Authenticate(nickname string, role types.Role, now time.Time) (string, error) {
	if !types.IsValidNickname(nickname) {
		return "", types.ErrInvalidNickname
	}
	if !types.IsValidRole(role) {
		return "", types.ErrInvalidRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Reap-before-create so a dead same-name session does not block re-login
	r.sweepLocked(now)

	if _, exists := r.sessions[nickname]; exists {
		return "", ErrNicknameTaken
	}

	token := uuid.New().String()
	r.sessions[nickname] = &session{
		nickname:      nickname,
		token:         token,
		role:          role,
		lastHeartbeat: now,
		channel:       types.NoChannel,
		pending:       make(map[string]*PendingUpload),
	}

	log.Info().Str("nick", nickname).Str("role", string(role)).Msg("session created")
	return token, nil
}

// Lookup returns a snapshot of the session for nickname
func (r *Registry) Lookup(nickname string) (types.SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[nickname]
	if !ok {
		return types.SessionInfo{}, false
	}
	return s.info(), true
}

// VerifyCredential reports whether token is the current token for nickname
func (r *Registry) VerifyCredential(nickname, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.authorizedLocked(nickname, token)
	return ok
}

// Authorize returns the session snapshot when the credential is valid
func (r *Registry) Authorize(nickname, token string) (types.SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.authorizedLocked(nickname, token)
	if !ok {
		return types.SessionInfo{}, ErrUnauthorized
	}
	return s.info(), nil
}

// TouchHeartbeat refreshes liveness; returns false on a bad credential
func (r *Registry) TouchHeartbeat(nickname, token string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.authorizedLocked(nickname, token)
	if !ok {
		return false
	}
	s.connected = true
	s.lastHeartbeat = now
	return true
}

// BindConnection attaches a live connection handle to the session.
// An expired session is destroyed before ErrExpired is returned.
func (r *Registry) BindConnection(nickname, token, handle string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.authorizedLocked(nickname, token)
	if !ok {
		return ErrUnauthorized
	}
	if r.expired(s, now) {
		r.destroyLocked(s, ReasonTimeout)
		return ErrExpired
	}
	if s.connected {
		return ErrDuplicateSession
	}

	s.handle = handle
	s.connected = true
	r.handles[handle] = nickname

	// Reconnect inside the grace window keeps the room
	if s.channel != types.NoChannel {
		r.transport.JoinRoom(handle, s.channel)
	}

	log.Info().Str("nick", nickname).Str("handle", handle).Int64("channel", s.channel).Msg("user logged in")
	return nil
}

// UnbindConnection marks the session behind handle disconnected; membership is kept
func (r *Registry) UnbindConnection(handle string, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nickname, ok := r.handles[handle]
	if !ok {
		return "", false
	}
	delete(r.handles, handle)

	s, ok := r.sessions[nickname]
	if !ok || s.handle != handle {
		return "", false
	}
	s.connected = false
	s.handle = ""
	s.lastHeartbeat = now

	log.Info().Str("nick", nickname).Str("handle", handle).Msg("connection closed, session in grace window")
	return nickname, true
}

// Destroy removes the session for nickname; returns false when it does not exist
func (r *Registry) Destroy(nickname string, reason DestroyReason) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[nickname]
	if !ok {
		return false
	}
	r.destroyLocked(s, reason)
	return true
}

// Sweep destroys every session whose heartbeat is older than the timeout
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

// SwitchChannel moves the session to target, leaving its current channel first.
// Channel permission must be checked by the caller.
func (r *Registry) SwitchChannel(nickname, token string, target int64) (int64, error) {
	if target == types.NoChannel {
		return types.NoChannel, ErrUnknownChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.authorizedLocked(nickname, token)
	if !ok {
		return types.NoChannel, ErrUnauthorized
	}

	from := s.channel
	if from != types.NoChannel {
		r.leaveLocked(s)
	}
	r.joinLocked(s, target)
	return from, nil
}

// MembersOf lists the nicknames in channel, sorted
func (r *Registry) MembersOf(channel int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.members[channel]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChannelOf returns the current channel of nickname
func (r *Registry) ChannelOf(nickname string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[nickname]
	if !ok {
		return types.NoChannel, false
	}
	return s.channel, true
}

// NicknameOf resolves a connection handle
func (r *Registry) NicknameOf(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nickname, ok := r.handles[handle]
	return nickname, ok
}

// List returns snapshots of all sessions ordered by nickname
func (r *Registry) List() []types.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]types.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Nickname < infos[j].Nickname })
	return infos
}

// Count returns the number of sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) authorizedLocked(nickname, token string) (*session, bool) {
	s, ok := r.sessions[nickname]
	if !ok || token == "" {
		return nil, false
	}
	if subtle.ConstantTimeCompare([]byte(s.token), []byte(token)) != 1 {
		return nil, false
	}
	return s, true
}

func (r *Registry) expired(s *session, now time.Time) bool {
	return now.Sub(s.lastHeartbeat) > r.config.Timeout
}

func (r *Registry) sweepLocked(now time.Time) []string {
	var reaped []string
	for _, s := range r.sessions {
		if r.expired(s, now) {
			reaped = append(reaped, s.nickname)
		}
	}
	sort.Strings(reaped)
	for _, nickname := range reaped {
		r.destroyLocked(r.sessions[nickname], ReasonTimeout)
	}
	return reaped
}

// destroyLocked tears a session down in a fixed order:
// membership cleanup, leave notification, transport teardown, registry removal
func (r *Registry) destroyLocked(s *session, reason DestroyReason) {
	if s.channel != types.NoChannel {
		r.leaveLocked(s)
	}

	if s.handle != "" {
		r.transport.Terminate(s.handle)
		delete(r.handles, s.handle)
	}

	delete(r.sessions, s.nickname)
	log.Info().Str("nick", s.nickname).Str("reason", string(reason)).Msg("user logged out")
}

func (r *Registry) leaveLocked(s *session) {
	from := s.channel
	if set, ok := r.members[from]; ok {
		delete(set, s.nickname)
		if len(set) == 0 {
			delete(r.members, from)
		}
	}
	s.channel = types.NoChannel

	r.transport.Broadcast(from, types.EventLeaving, types.PresenceNotice{Target: s.nickname})
	if s.handle != "" {
		r.transport.LeaveRoom(s.handle, from)
	}
}

func (r *Registry) joinLocked(s *session, target int64) {
	set, ok := r.members[target]
	if !ok {
		set = make(map[string]struct{})
		r.members[target] = set
	}
	set[s.nickname] = struct{}{}
	s.channel = target

	if s.handle != "" {
		r.transport.JoinRoom(s.handle, target)
	}
	r.transport.Broadcast(target, types.EventJoining, types.PresenceNotice{Target: s.nickname})
}

func (s *session) info() types.SessionInfo {
	return types.SessionInfo{
		Nickname:      s.nickname,
		Role:          s.role,
		Channel:       s.channel,
		Connected:     s.connected,
		LastHeartbeat: s.lastHeartbeat,
	}
}
