package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AuthState is the per-(user, mcp) verification state.
type AuthState string

const (
	AuthUnverified AuthState = "unverified"
	AuthVerifying  AuthState = "verifying"
	AuthVerified   AuthState = "verified"
	AuthFailed     AuthState = "failed"
	AuthExpired    AuthState = "expired"
)

// Session is owned by the Manager: a live (or failed) handle to one MCP
// server scoped to one user.
type Session struct {
	MCPName    string
	UserID     string
	AuthState  AuthState
	Handle     any
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// AuthRequired is returned by EnsureSession when verification cannot
// proceed without additional credentials from the user.
type AuthRequired struct {
	MCPName       string
	MissingParams []string
}

func (e *AuthRequired) Error() string {
	return fmt.Sprintf("mcp: %s requires authentication (missing: %v)", e.MCPName, e.MissingParams)
}

// ErrSessionFailed is returned by Invoke when called against a failed
// session; callers must discard it and call EnsureSession again.
var ErrSessionFailed = errors.New("mcp: session is in failed state")

type sessionKey struct {
	userID  string
	mcpName string
}

// Cache is the narrow interface the Manager uses to record session
// metadata outside the process (backed by Redis in production). It never
// stores the live transport Handle, only the auth state. The Manager
// writes the verified state after a successful probe and does not read it
// back: whether a session is reused is decided from the in-process pool
// alone.
type Cache interface {
	Get(ctx context.Context, userID, mcpName string) (AuthState, bool, error)
	Set(ctx context.Context, userID, mcpName string, state AuthState, ttl time.Duration) error
}

// Manager implements the MCP Session Manager: connect, authenticate, pool,
// invalidate, and classify errors for the (user, mcp) sessions an Engine
// run needs.
//
// Concurrency: at most one session per (user, mcp) is in use at a time;
// concurrent EnsureSession/Invoke calls for the same key serialize on a
// per-key mutex kept in a map guarded by mu, never holding a pool-wide
// lock across Launch/Probe/CallTool calls.
type Manager struct {
	launcher Launcher
	caller   Caller
	cache    Cache

	lruCap int

	mu       sync.Mutex
	keys     []sessionKey // LRU order, oldest first
	sessions map[sessionKey]*Session
	locks    map[sessionKey]*sync.Mutex
}

// NewManager constructs a Session Manager. cache may be nil to skip
// recording verified state; with or without a cache, every process
// launches and probes a server on its first use of a (user, mcp) key.
func NewManager(launcher Launcher, caller Caller, cache Cache, lruCap int) *Manager {
	if lruCap <= 0 {
		lruCap = 64
	}
	return &Manager{
		launcher: launcher,
		caller:   caller,
		cache:    cache,
		lruCap:   lruCap,
		sessions: make(map[sessionKey]*Session),
		locks:    make(map[sessionKey]*sync.Mutex),
	}
}

func (m *Manager) keyLock(k sessionKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[k]
	if !ok {
		l = &sync.Mutex{}
		m.locks[k] = l
	}
	return l
}

// EnsureSession returns a verified session for (userID, mcpName), launching
// and probing the server if necessary. authFields carries the user's stored
// credentials for the capability probe.
func (m *Manager) EnsureSession(ctx context.Context, userID, mcpName string, authFields map[string]string, requiredFields []string) (*Session, error) {
	k := sessionKey{userID: userID, mcpName: mcpName}
	lock := m.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess, exists := m.sessions[k]
	m.mu.Unlock()

	if exists && sess.AuthState == AuthVerified {
		sess.LastUsedAt = time.Now()
		m.mu.Lock()
		for i, kk := range m.keys {
			if kk == k {
				m.keys = append(append(m.keys[:i:i], m.keys[i+1:]...), k)
				break
			}
		}
		m.mu.Unlock()
		return sess, nil
	}
	if exists && sess.AuthState == AuthFailed {
		m.evict(k)
		exists = false
	}

	var missing []string
	for _, f := range requiredFields {
		if authFields[f] == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &AuthRequired{MCPName: mcpName, MissingParams: missing}
	}

	handle, err := m.launcher.Launch(ctx, userID, mcpName, authFields)
	if err != nil {
		return nil, m.fail(k, err)
	}
	if err := m.launcher.Probe(ctx, handle); err != nil {
		return nil, m.fail(k, err)
	}

	now := time.Now()
	sess = &Session{
		MCPName:    mcpName,
		UserID:     userID,
		AuthState:  AuthVerified,
		Handle:     handle,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	m.admit(k, sess)
	if m.cache != nil {
		_ = m.cache.Set(ctx, userID, mcpName, AuthVerified, 24*time.Hour)
	}
	return sess, nil
}

func (m *Manager) fail(k sessionKey, cause error) error {
	m.mu.Lock()
	m.sessions[k] = &Session{MCPName: k.mcpName, UserID: k.userID, AuthState: AuthFailed}
	m.mu.Unlock()
	class := Classify(cause.Error())
	if class.IsAuth() {
		return &AuthRequired{MCPName: k.mcpName}
	}
	return cause
}

// admit inserts/refreshes sess in the pool, evicting the least-recently-used
// entry when the pool exceeds its configured cap.
func (m *Manager) admit(k sessionKey, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[k]; !exists {
		m.keys = append(m.keys, k)
	}
	m.sessions[k] = sess
	if len(m.keys) > m.lruCap {
		oldest := m.keys[0]
		m.keys = m.keys[1:]
		delete(m.sessions, oldest)
	}
}

func (m *Manager) evict(k sessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, k)
	for i, kk := range m.keys {
		if kk == k {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Invoke calls tool on an already-verified session. Any auth-classified
// error moves the session to failed; the next EnsureSession call for the
// same key re-verifies.
func (m *Manager) Invoke(ctx context.Context, sess *Session, tool string, args json.RawMessage) (json.RawMessage, Classification, error) {
	lock := m.keyLock(sessionKey{userID: sess.UserID, mcpName: sess.MCPName})
	lock.Lock()
	defer lock.Unlock()
	if sess.AuthState != AuthVerified {
		return nil, ClassMCPAuthRequired, ErrSessionFailed
	}
	resp, err := m.caller.CallTool(ctx, sess.Handle, CallRequest{Server: sess.MCPName, Tool: tool, Payload: args})
	if err != nil {
		class := Classify(err.Error())
		if class.IsAuth() {
			m.InvalidateSession(sess)
		}
		return nil, class, err
	}
	sess.LastUsedAt = time.Now()
	return resp.Result, "", nil
}

// InvalidateSession marks sess as failed and evicts it from the pool.
func (m *Manager) InvalidateSession(sess *Session) {
	sess.AuthState = AuthFailed
	m.evict(sessionKey{userID: sess.UserID, mcpName: sess.MCPName})
}
