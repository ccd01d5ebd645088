package identity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identity.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateUserAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	userID, err := s.CreateUser(ctx, "Ada", model.RoleAgent)
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	u, err := s.GetUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, "Ada", u.DisplayName)
	require.Equal(t, model.RoleAgent, u.Role)
}

func TestGetUserNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetUser(ctx, "missing")
	require.True(t, model.IsKind(err, model.KindNotFound))
}

func TestLinkIdentityDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u1, err := s.CreateUser(ctx, "A", model.RoleCustomer)
	require.NoError(t, err)
	u2, err := s.CreateUser(ctx, "B", model.RoleCustomer)
	require.NoError(t, err)

	_, err = s.LinkIdentity(ctx, u1, model.PlatformWhatsApp, "+5562999999999")
	require.NoError(t, err)

	_, err = s.LinkIdentity(ctx, u2, model.PlatformWhatsApp, "+5562999999999")
	require.True(t, model.IsKind(err, model.KindDuplicate))
}

func TestResolveAfterLink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	userID, err := s.CreateUser(ctx, "C", model.RoleCustomer)
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, model.PlatformTelegram, "123456")
	require.NoError(t, err)
	require.Empty(t, resolved)

	_, err = s.LinkIdentity(ctx, userID, model.PlatformTelegram, "123456")
	require.NoError(t, err)

	resolved, err = s.Resolve(ctx, model.PlatformTelegram, "123456")
	require.NoError(t, err)
	require.Equal(t, userID, resolved)
}

func TestUnlinkThenRelinkToDifferentUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u1, _ := s.CreateUser(ctx, "A", model.RoleCustomer)
	u2, _ := s.CreateUser(ctx, "B", model.RoleCustomer)

	_, err := s.LinkIdentity(ctx, u1, model.PlatformSlack, "U1")
	require.NoError(t, err)

	require.NoError(t, s.UnlinkIdentity(ctx, u1, model.PlatformSlack, "U1"))
	// Idempotent: unlinking an absent binding is not an error.
	require.NoError(t, s.UnlinkIdentity(ctx, u1, model.PlatformSlack, "U1"))

	_, err = s.LinkIdentity(ctx, u2, model.PlatformSlack, "U1")
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, model.PlatformSlack, "U1")
	require.NoError(t, err)
	require.Equal(t, u2, resolved)
}

func TestGetIdentitiesAndSuggestMatches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u1, _ := s.CreateUser(ctx, "A", model.RoleCustomer)
	u2, _ := s.CreateUser(ctx, "B", model.RoleCustomer)

	_, err := s.LinkIdentity(ctx, u1, model.PlatformWhatsApp, "+551199990000")
	require.NoError(t, err)
	_, err = s.LinkIdentity(ctx, u2, model.PlatformTelegram, "+551199990000")
	require.NoError(t, err)

	ids, err := s.GetIdentities(ctx, u1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, model.PlatformWhatsApp, ids[0].Platform)

	matches, err := s.SuggestMatches(ctx, u1)
	require.NoError(t, err)
	require.Contains(t, matches, u2)
}

func TestAuditIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Audit(ctx, "admin", "manual_note", "user:x", "", "created"))

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}
