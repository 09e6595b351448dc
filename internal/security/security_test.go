package security

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/a2a"
)

func testManager(cfg Config) *Manager {
	return NewManager(cfg, slog.New(slog.DiscardHandler))
}

func TestAuthenticateNone(t *testing.T) {
	m := testManager(DefaultConfig())
	session, err := m.Authenticate(context.Background(), "agent1", Credentials{AuthType: AuthNone})
	require.NoError(t, err)
	assert.Equal(t, "agent1", session.AgentID)
	assert.Equal(t, a2a.TrustPublic, session.TrustLevel)
	assert.NotEmpty(t, session.SessionID)
}

func TestAuthenticateBearerStructure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthType = AuthBearer
	m := testManager(cfg)
	ctx := context.Background()

	_, err := m.Authenticate(ctx, "agent1", Credentials{
		AuthType: AuthBearer,
		Values:   map[string]string{"token": "not-a-jwt"},
	})
	require.Error(t, err)
	assert.Equal(t, a2a.KindAuthentication, a2a.AsError(err).Kind)

	// Unsigned but structurally valid three-segment token.
	token := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJhZ2VudDEifQ.c2ln"
	_, err = m.Authenticate(ctx, "agent1", Credentials{
		AuthType: AuthBearer,
		Values:   map[string]string{"token": token},
	})
	assert.NoError(t, err)
}

func TestRevokedTokenRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthType = AuthBearer
	m := testManager(cfg)
	ctx := context.Background()

	token := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJhZ2VudDEifQ.c2ln"
	session, err := m.Authenticate(ctx, "agent1", Credentials{
		AuthType: AuthBearer,
		Values:   map[string]string{"token": token},
	})
	require.NoError(t, err)

	m.RevokeSession(session.SessionID, token)
	_, err = m.ValidateSession(session.SessionID)
	assert.Error(t, err)

	_, err = m.Authenticate(ctx, "agent1", Credentials{
		AuthType: AuthBearer,
		Values:   map[string]string{"token": token},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revoked")
}

func TestTrustLevelFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequiredTrustLevel = a2a.TrustTrusted
	m := testManager(cfg)
	ctx := context.Background()

	_, err := m.Authenticate(ctx, "stranger", Credentials{AuthType: AuthNone})
	require.Error(t, err)
	assert.Equal(t, a2a.KindAuthorization, a2a.AsError(err).Kind)

	// Internal exceeds the trusted floor by score, not equality.
	m.SetTrustLevel("insider", a2a.TrustInternal)
	session, err := m.Authenticate(ctx, "insider", Credentials{AuthType: AuthNone})
	require.NoError(t, err)
	assert.Equal(t, a2a.TrustInternal, session.TrustLevel)
}

func TestPermissionDecisionOrder(t *testing.T) {
	m := testManager(DefaultConfig())

	session := &Session{
		AgentID:    "agent1",
		TrustLevel: a2a.TrustInternal,
		Permissions: Permissions{
			Allowed:   []string{"send_message"},
			Denied:    []string{"manage_agents"},
			Resources: []string{"queue-a"},
		},
	}

	// Denied set wins over everything, including internal trust.
	assert.False(t, m.CheckPermission(session, "manage_agents", ""))
	// Allowed without resource constraint.
	assert.True(t, m.CheckPermission(session, "send_message", ""))
	// Allowed with accessible resource.
	assert.True(t, m.CheckPermission(session, "send_message", "queue-a"))
	// Allowed but resource not in the accessible set.
	assert.False(t, m.CheckPermission(session, "send_message", "queue-b"))
	// Not in any explicit set: falls to trust defaults.
	assert.True(t, m.CheckPermission(session, "read_stats", ""))

	public := &Session{AgentID: "p", TrustLevel: a2a.TrustPublic}
	assert.False(t, m.CheckPermission(public, "read_stats", ""))
	verified := &Session{AgentID: "v", TrustLevel: a2a.TrustVerified}
	assert.False(t, m.CheckPermission(verified, "read_stats", ""))
	trusted := &Session{AgentID: "t", TrustLevel: a2a.TrustTrusted}
	assert.True(t, m.CheckPermission(trusted, "read_stats", ""))
}

func TestAuditLogBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuditLogSize = 5
	m := testManager(cfg)
	session := &Session{AgentID: "a", TrustLevel: a2a.TrustPublic}

	for i := 0; i < 10; i++ {
		m.CheckPermission(session, "op", "")
	}
	log := m.AuditLog()
	assert.Len(t, log, 5)
	for _, entry := range log {
		assert.False(t, entry.Allowed)
		assert.Equal(t, "op", entry.Operation)
	}
}

func TestSharedKeyLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthType = AuthSharedKey
	m := testManager(cfg)
	ctx := context.Background()

	_, err := m.Authenticate(ctx, "a", Credentials{
		AuthType: AuthSharedKey,
		Values:   map[string]string{"api_key": "short"},
	})
	assert.Error(t, err)

	_, err = m.Authenticate(ctx, "a", Credentials{
		AuthType: AuthSharedKey,
		Values:   map[string]string{"api_key": "0123456789abcdef0123456789abcdef"},
	})
	assert.NoError(t, err)
}

func TestValidateSessionUpdatesActivity(t *testing.T) {
	m := testManager(DefaultConfig())
	session, err := m.Authenticate(context.Background(), "agent1", Credentials{AuthType: AuthNone})
	require.NoError(t, err)

	validated, err := m.ValidateSession(session.SessionID)
	require.NoError(t, err)
	assert.False(t, validated.LastActivity.Before(session.LastActivity))

	_, err = m.ValidateSession("no-such-session")
	assert.Error(t, err)
}
