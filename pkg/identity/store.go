// Package identity implements the Identity Store (spec.md §4.A): the
// persistent mapping between internal Users and external platform handles,
// backed by modernc.org/sqlite — the same pure-Go relational driver the
// teacher repo uses for its own local persistence.
package identity

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	role         TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS external_identities (
	identity_id      TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	platform         TEXT NOT NULL,
	platform_user_id TEXT NOT NULL,
	verified         INTEGER NOT NULL DEFAULT 0,
	linked_at        TEXT NOT NULL,
	unlinked_at      TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_active
	ON external_identities(platform, platform_user_id)
	WHERE unlinked_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_identities_user ON external_identities(user_id);

CREATE TABLE IF NOT EXISTS audit_log (
	audit_id   TEXT PRIMARY KEY,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	target     TEXT NOT NULL,
	before     TEXT,
	after      TEXT,
	at         TEXT NOT NULL
);
`

// Store is the Identity Store (§4.A contract).
type Store struct {
	db *sql.DB
}

// Open creates/migrates the sqlite-backed identity store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, model.NewError(model.KindFatal, "open identity sqlite", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, matches §5 "infrequent, serialised per user_id"
	if _, err := db.Exec(schema); err != nil {
		return nil, model.NewError(model.KindFatal, "migrate identity schema", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateUser issues a new 128-bit user_id (§4.A).
func (s *Store) CreateUser(ctx context.Context, displayName string, role model.Role) (string, error) {
	userID := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, display_name, role, created_at) VALUES (?, ?, ?, ?)`,
		userID, displayName, role, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", model.NewError(model.KindFatal, "insert user", err)
	}
	logger.InfoCF("identity", "user created", map[string]any{"user_id": userID, "role": role})
	return userID, nil
}

// GetUser fetches a User by id.
func (s *Store) GetUser(ctx context.Context, userID string) (model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, role, created_at FROM users WHERE user_id = ?`, userID)
	var u model.User
	var createdAt string
	if err := row.Scan(&u.UserID, &u.DisplayName, &u.Role, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return model.User{}, model.NewError(model.KindNotFound, "user not found", err)
		}
		return model.User{}, model.NewError(model.KindFatal, "scan user", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return u, nil
}

// ListUsers returns all users, newest first. No HTTP route exposes it; not
// paginated because the identity store is not
// expected to hold production-scale user counts on its own.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, display_name, role, created_at FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, model.NewError(model.KindFatal, "list users", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		var createdAt string
		if err := rows.Scan(&u.UserID, &u.DisplayName, &u.Role, &createdAt); err != nil {
			return nil, model.NewError(model.KindFatal, "scan user row", err)
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// LinkIdentity binds platform/platformUserID to userID. Fails with
// KindDuplicate if that binding is already active for any user (§4.A).
func (s *Store) LinkIdentity(ctx context.Context, userID string, platform model.Platform, platformUserID string) (string, error) {
	identityID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO external_identities (identity_id, user_id, platform, platform_user_id, verified, linked_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		identityID, userID, platform, platformUserID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", model.NewError(model.KindDuplicate, "identity already linked", err)
		}
		return "", model.NewError(model.KindFatal, "insert identity", err)
	}

	s.audit(ctx, userID, "link_identity", string(platform)+":"+platformUserID, "", identityID)
	return identityID, nil
}

// UnlinkIdentity removes the active binding; idempotent (§4.A).
func (s *Store) UnlinkIdentity(ctx context.Context, userID string, platform model.Platform, platformUserID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_identities SET unlinked_at = ?
		 WHERE user_id = ? AND platform = ? AND platform_user_id = ? AND unlinked_at IS NULL`,
		now, userID, platform, platformUserID)
	if err != nil {
		return model.NewError(model.KindFatal, "unlink identity", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.audit(ctx, userID, "unlink_identity", string(platform)+":"+platformUserID, "linked", "unlinked")
	}
	return nil
}

// Resolve is the primary hot-path lookup: platform handle -> user_id (§4.A).
func (s *Store) Resolve(ctx context.Context, platform model.Platform, platformUserID string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM external_identities
		 WHERE platform = ? AND platform_user_id = ? AND unlinked_at IS NULL`,
		platform, platformUserID)
	var userID string
	if err := row.Scan(&userID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil // no binding: a nil-ish result, not an error (§4.A "user_id?")
		}
		return "", model.NewError(model.KindFatal, "resolve identity", err)
	}
	return userID, nil
}

// GetIdentities returns every active (platform, platform_user_id, verified)
// binding for userID (§4.A).
func (s *Store) GetIdentities(ctx context.Context, userID string) ([]model.ExternalIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity_id, user_id, platform, platform_user_id, verified, linked_at
		 FROM external_identities WHERE user_id = ? AND unlinked_at IS NULL`, userID)
	if err != nil {
		return nil, model.NewError(model.KindFatal, "list identities", err)
	}
	defer rows.Close()

	var out []model.ExternalIdentity
	for rows.Next() {
		var id model.ExternalIdentity
		var verified int
		var linkedAt string
		if err := rows.Scan(&id.IdentityID, &id.UserID, &id.Platform, &id.PlatformUserID, &verified, &linkedAt); err != nil {
			return nil, model.NewError(model.KindFatal, "scan identity", err)
		}
		id.Verified = verified != 0
		id.LinkedAt, _ = time.Parse(time.RFC3339Nano, linkedAt)
		out = append(out, id)
	}
	return out, rows.Err()
}

// SuggestMatches is an advisory heuristic: other users whose identities
// have a platform_user_id that contains, or is contained in (case-insensitively),
// with one of userID's own handles. Never auto-applied (§4.A).
func (s *Store) SuggestMatches(ctx context.Context, userID string) ([]string, error) {
	mine, err := s.GetIdentities(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(mine) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, platform_user_id FROM external_identities
		 WHERE user_id != ? AND unlinked_at IS NULL`, userID)
	if err != nil {
		return nil, model.NewError(model.KindFatal, "scan candidates", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []string
	for rows.Next() {
		var candidateUser, handle string
		if err := rows.Scan(&candidateUser, &handle); err != nil {
			return nil, model.NewError(model.KindFatal, "scan candidate row", err)
		}
		if seen[candidateUser] {
			continue
		}
		for _, m := range mine {
			if overlaps(m.PlatformUserID, handle) {
				seen[candidateUser] = true
				out = append(out, candidateUser)
				break
			}
		}
	}
	return out, rows.Err()
}

func overlaps(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Audit appends a durable, never-updated audit entry (§4.A).
func (s *Store) Audit(ctx context.Context, actor, action, target, before, after string) error {
	return s.audit(ctx, actor, action, target, before, after)
}

func (s *Store) audit(ctx context.Context, actor, action, target, before, after string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (audit_id, actor, action, target, before, after, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), actor, action, target, before, after, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		logger.ErrorCF("identity", "failed to write audit entry", map[string]any{
			"actor": actor, "action": action, "error": err.Error(),
		})
		return model.NewError(model.KindFatal, "write audit", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
