// Package security authenticates sessions, checks per-operation permissions,
// and records every decision in a bounded audit log.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentx/agentx/internal/a2a"
)

// AuthType names the authentication scheme of a credential set.
type AuthType string

const (
	AuthNone      AuthType = "none"
	AuthSharedKey AuthType = "shared_key"
	AuthBearer    AuthType = "bearer"
	AuthOAuth2    AuthType = "oauth2"
	AuthMutualTLS AuthType = "mutual_tls"
	AuthSignature AuthType = "signature"
)

// revokedTokenRetention is how long revoked tokens stay on the denylist.
const revokedTokenRetention = 7 * 24 * time.Hour

// Config is the security kernel configuration.
type Config struct {
	AuthType           AuthType
	Encryption         string
	Signature          string
	RequiredTrustLevel a2a.TrustLevel
	TokenExpiry        time.Duration
	MaxClockSkew       time.Duration
	AuditLogSize       int
}

// DefaultConfig returns an open configuration suitable for development.
func DefaultConfig() Config {
	return Config{
		AuthType:           AuthNone,
		RequiredTrustLevel: a2a.TrustPublic,
		TokenExpiry:        time.Hour,
		MaxClockSkew:       5 * time.Minute,
		AuditLogSize:       1000,
	}
}

// Credentials carries the material presented during authentication.
type Credentials struct {
	AuthType  AuthType
	Values    map[string]string
	ExpiresAt *time.Time
	Scopes    []string
}

// ResourceLimits is advisory metadata attached to a session; enforcement is
// the host's responsibility, except the request rate which the kernel
// tracks itself.
type ResourceLimits struct {
	MaxMemoryBytes     int64   `json:"maxMemoryBytes,omitempty"`
	MaxCPUPercent      float64 `json:"maxCpuPercent,omitempty"`
	RateLimitPerSecond float64 `json:"rateLimitPerSecond,omitempty"`
	MaxConcurrent      int     `json:"maxConcurrent,omitempty"`
}

// Permissions is the per-session decision set consulted before trust-level
// defaults.
type Permissions struct {
	Allowed   []string
	Denied    []string
	Resources []string
}

// Session is the security context issued on successful authentication.
type Session struct {
	AgentID      string
	TrustLevel   a2a.TrustLevel
	Permissions  Permissions
	Limits       ResourceLimits
	SessionID    string
	CreatedAt    time.Time
	LastActivity time.Time

	limiter *rate.Limiter
}

// AuditEntry is one access decision.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agentId"`
	SessionID string    `json:"sessionId"`
	Operation string    `json:"operation"`
	Resource  string    `json:"resource,omitempty"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
}

// Manager is the security kernel. It exclusively owns sessions, the trusted
// agent table, and the revocation denylist.
type Manager struct {
	mu            sync.Mutex
	config        Config
	sessions      map[string]*Session
	trustedAgents map[string]a2a.TrustLevel
	limits        map[string]ResourceLimits
	revokedTokens map[string]time.Time
	audit         []AuditEntry
	logger        *slog.Logger
}

// NewManager builds a security kernel.
func NewManager(config Config, logger *slog.Logger) *Manager {
	if config.AuditLogSize <= 0 {
		config.AuditLogSize = 1000
	}
	return &Manager{
		config:        config,
		sessions:      make(map[string]*Session),
		trustedAgents: make(map[string]a2a.TrustLevel),
		limits:        make(map[string]ResourceLimits),
		revokedTokens: make(map[string]time.Time),
		logger:        logger,
	}
}

// SetTrustLevel records the trust level granted to an agent.
func (m *Manager) SetTrustLevel(agentID string, level a2a.TrustLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trustedAgents[agentID] = level
}

// RemoveTrustedAgent drops an agent from the trust table.
func (m *Manager) RemoveTrustedAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trustedAgents, agentID)
}

// SetResourceLimits records advisory resource limits for an agent.
func (m *Manager) SetResourceLimits(agentID string, limits ResourceLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[agentID] = limits
}

// Authenticate validates credentials and issues a session. The agent's
// trust level must meet the configured floor by trust score.
func (m *Manager) Authenticate(ctx context.Context, agentID string, creds Credentials) (*Session, error) {
	if creds.AuthType != m.config.AuthType && m.config.AuthType != AuthNone {
		return nil, a2a.AuthenticationError("unsupported auth type %q", creds.AuthType)
	}
	if creds.ExpiresAt != nil && time.Now().After(*creds.ExpiresAt) {
		return nil, a2a.AuthenticationError("credentials have expired")
	}
	if err := m.validateCredentials(creds); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	trustLevel, ok := m.trustedAgents[agentID]
	if !ok {
		trustLevel = a2a.TrustPublic
	}
	if trustLevel.TrustScore() < m.config.RequiredTrustLevel.TrustScore() {
		m.appendAuditLocked(AuditEntry{
			Timestamp: time.Now().UTC(),
			AgentID:   agentID,
			Operation: "authenticate",
			Allowed:   false,
			Reason:    "insufficient trust level",
		})
		return nil, a2a.AuthorizationError("trust level %s below required %s", trustLevel, m.config.RequiredTrustLevel)
	}

	now := time.Now().UTC()
	session := &Session{
		AgentID:      agentID,
		TrustLevel:   trustLevel,
		SessionID:    uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
	}
	if limits, ok := m.limits[agentID]; ok {
		session.Limits = limits
		if limits.RateLimitPerSecond > 0 {
			burst := int(limits.RateLimitPerSecond)
			if burst < 1 {
				burst = 1
			}
			session.limiter = rate.NewLimiter(rate.Limit(limits.RateLimitPerSecond), burst)
		}
	}
	m.sessions[session.SessionID] = session

	m.logger.InfoContext(ctx, "Session issued",
		"agent_id", agentID,
		"session_id", session.SessionID,
		"trust_level", string(trustLevel),
	)
	return session.clone(), nil
}

// ValidateSession checks a session for existence and expiry, bumping its
// last-activity time.
func (m *Manager) ValidateSession(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, a2a.AuthenticationError("invalid session id")
	}
	now := time.Now().UTC()
	if now.Sub(session.CreatedAt) > m.config.TokenExpiry {
		delete(m.sessions, sessionID)
		return nil, a2a.AuthenticationError("session has expired")
	}
	session.LastActivity = now
	return session.clone(), nil
}

// RevokeSession ends a session. Bearer tokens move onto the denylist.
func (m *Manager) RevokeSession(sessionID string, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	if token != "" {
		m.revokedTokens[token] = time.Now().UTC()
	}
}

// CheckPermission evaluates the decision order: denied set, allowed set
// (with resource scoping), then trust-level defaults. Every decision is
// audited.
func (m *Manager) CheckPermission(session *Session, op, resource string) bool {
	allowed, reason := decide(session, op, resource)

	m.mu.Lock()
	m.appendAuditLocked(AuditEntry{
		Timestamp: time.Now().UTC(),
		AgentID:   session.AgentID,
		SessionID: session.SessionID,
		Operation: op,
		Resource:  resource,
		Allowed:   allowed,
		Reason:    reason,
	})
	m.mu.Unlock()
	return allowed
}

func decide(session *Session, op, resource string) (bool, string) {
	for _, denied := range session.Permissions.Denied {
		if denied == op {
			return false, "operation denied"
		}
	}
	for _, granted := range session.Permissions.Allowed {
		if granted != op && granted != "*" {
			continue
		}
		if resource == "" {
			return true, "operation allowed"
		}
		for _, accessible := range session.Permissions.Resources {
			if accessible == resource || accessible == "*" {
				return true, "operation and resource allowed"
			}
		}
		return false, "resource not accessible"
	}
	switch session.TrustLevel {
	case a2a.TrustTrusted, a2a.TrustInternal:
		return true, "trust level default"
	default:
		return false, "trust level default"
	}
}

// GrantPermissions replaces the explicit permission sets of a live session.
func (m *Manager) GrantPermissions(sessionID string, perms Permissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return a2a.AuthenticationError("invalid session id")
	}
	session.Permissions = perms
	return nil
}

// Allow consumes one request from the session's rate budget, if any.
func (m *Manager) Allow(sessionID string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return a2a.AuthenticationError("invalid session id")
	}
	if session.limiter != nil && !session.limiter.Allow() {
		return a2a.NewError(a2a.KindRateLimitExceeded, "rate limit exceeded for agent %s", session.AgentID)
	}
	return nil
}

// AuditLog returns a copy of the retained audit entries, oldest first.
func (m *Manager) AuditLog() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

// CleanupExpired drops expired sessions and stale denylist entries.
func (m *Manager) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, session := range m.sessions {
		if now.Sub(session.CreatedAt) > m.config.TokenExpiry {
			delete(m.sessions, id)
		}
	}
	for token, revokedAt := range m.revokedTokens {
		if now.Sub(revokedAt) > revokedTokenRetention {
			delete(m.revokedTokens, token)
		}
	}
}

// Run drives periodic session and denylist cleanup until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

func (m *Manager) appendAuditLocked(entry AuditEntry) {
	m.audit = append(m.audit, entry)
	if overflow := len(m.audit) - m.config.AuditLogSize; overflow > 0 {
		m.audit = m.audit[overflow:]
	}
}

func (m *Manager) validateCredentials(creds Credentials) error {
	switch creds.AuthType {
	case AuthNone:
		return nil
	case AuthSharedKey:
		key := creds.Values["api_key"]
		if len(key) < 32 {
			return a2a.AuthenticationError("shared key is malformed")
		}
	case AuthBearer:
		token := creds.Values["token"]
		if token == "" {
			return a2a.AuthenticationError("bearer token is missing")
		}
		m.mu.Lock()
		_, revoked := m.revokedTokens[token]
		m.mu.Unlock()
		if revoked {
			return a2a.AuthenticationError("token has been revoked")
		}
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(token, jwt.MapClaims{}); err != nil {
			return a2a.AuthenticationError("bearer token is malformed")
		}
	case AuthOAuth2:
		if creds.Values["access_token"] == "" {
			return a2a.AuthenticationError("OAuth2 access token is missing")
		}
	case AuthMutualTLS:
		if len(creds.Values["cert_fingerprint"]) != 64 {
			return a2a.AuthenticationError("certificate fingerprint is malformed")
		}
	case AuthSignature:
		if creds.Values["signature"] == "" || creds.Values["public_key"] == "" {
			return a2a.AuthenticationError("signature or public key is missing")
		}
	default:
		if len(creds.Values) == 0 {
			return a2a.AuthenticationError("custom auth %q has no credentials", creds.AuthType)
		}
	}
	return nil
}

func (s *Session) clone() *Session {
	clone := *s
	clone.Permissions = Permissions{
		Allowed:   append([]string(nil), s.Permissions.Allowed...),
		Denied:    append([]string(nil), s.Permissions.Denied...),
		Resources: append([]string(nil), s.Permissions.Resources...),
	}
	return &clone
}
