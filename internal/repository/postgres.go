package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/permission"
)

// Compile-time interface assertions.
var (
	_ UserRepository       = (*PostgresUserRepo)(nil)
	_ GroupRepository      = (*PostgresGroupRepo)(nil)
	_ RevocationRepository = (*PostgresRevocationRepo)(nil)
	_ KeyRepository        = (*PostgresKeyRepo)(nil)
	_ PasskeyRepository    = (*PostgresPasskeyRepo)(nil)
)

// PostgresUserRepo implements UserRepository on pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const userColumns = `id, uuid, email, name, image, password_hash, permissions,
COALESCE(totp_secret, ''), totp_created, totp_last_used, last_login, last_special_access, created_at, updated_at`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByUUID(ctx context.Context, uuid string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE uuid = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, uuid))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) List(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

const insertUserSQL = `INSERT INTO users (id, uuid, email, name, image, password_hash, permissions, last_login, last_special_access)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	err := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.UUID,
		user.Email,
		user.Name,
		user.Image,
		user.PasswordHash,
		permission.Strings(user.Permissions),
		user.LastLogin,
		user.LastSpecialAccess,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, user domain.User) error {
	const query = `UPDATE users SET email = $2, name = $3, image = $4, permissions = $5, updated_at = now() WHERE uuid = $1`
	if _, err := r.db.Exec(ctx, query, user.UUID, user.Email, user.Name, user.Image, permission.Strings(user.Permissions)); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdatePasswordHash(ctx context.Context, uuid, hash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = now() WHERE uuid = $1`
	if _, err := r.db.Exec(ctx, query, uuid, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateTOTP(ctx context.Context, uuid, secret string, created, lastUsed *time.Time) error {
	const query = `UPDATE users SET totp_secret = NULLIF($2, ''), totp_created = $3, totp_last_used = $4, updated_at = now() WHERE uuid = $1`
	if _, err := r.db.Exec(ctx, query, uuid, secret, created, lastUsed); err != nil {
		return fmt.Errorf("update totp: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, uuid string, at time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = now() WHERE uuid = $1`
	if _, err := r.db.Exec(ctx, query, uuid, at); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateLastSpecialAccess(ctx context.Context, uuid string, at time.Time) error {
	const query = `UPDATE users SET last_special_access = $2, updated_at = now() WHERE uuid = $1`
	if _, err := r.db.Exec(ctx, query, uuid, at); err != nil {
		return fmt.Errorf("update last special access: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) Delete(ctx context.Context, uuid string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM users WHERE uuid = $1`, uuid); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

const groupsOfSQL = `SELECT g.id, g.uuid, g.name, g.access_level, g.permissions, g.created_at, g.updated_at
FROM groups g
JOIN group_users gu ON gu.group_uuid = g.uuid
WHERE gu.user_uuid = $1
ORDER BY g.access_level DESC`

func (r *PostgresUserRepo) GroupsOf(ctx context.Context, uuid string) ([]domain.Group, error) {
	rows, err := r.db.Query(ctx, groupsOfSQL, uuid)
	if err != nil {
		return nil, fmt.Errorf("groups of user: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("groups of user: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// PostgresGroupRepo implements GroupRepository on pgx.
type PostgresGroupRepo struct {
	db *pgxpool.Pool
}

func NewPostgresGroupRepo(pool *pgxpool.Pool) *PostgresGroupRepo {
	return &PostgresGroupRepo{db: pool}
}

func (r *PostgresGroupRepo) GetByUUID(ctx context.Context, uuid string) (domain.Group, error) {
	const query = `SELECT id, uuid, name, access_level, permissions, created_at, updated_at FROM groups WHERE uuid = $1`
	group, err := scanGroup(r.db.QueryRow(ctx, query, uuid))
	if err != nil {
		return domain.Group{}, fmt.Errorf("get group: %w", err)
	}
	members, err := r.memberUUIDs(ctx, uuid)
	if err != nil {
		return domain.Group{}, err
	}
	group.UserUUIDs = members
	return group, nil
}

func (r *PostgresGroupRepo) List(ctx context.Context) ([]domain.Group, error) {
	const query = `SELECT id, uuid, name, access_level, permissions, created_at, updated_at FROM groups ORDER BY access_level DESC, name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range groups {
		members, err := r.memberUUIDs(ctx, groups[i].UUID)
		if err != nil {
			return nil, err
		}
		groups[i].UserUUIDs = members
	}
	return groups, nil
}

const insertGroupSQL = `INSERT INTO groups (id, uuid, name, access_level, permissions)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at`

func (r *PostgresGroupRepo) Create(ctx context.Context, group domain.Group) (domain.Group, error) {
	err := r.db.QueryRow(ctx, insertGroupSQL,
		group.ID,
		group.UUID,
		group.Name,
		group.AccessLevel,
		permission.Strings(group.Permissions),
	).Scan(&group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}
	if err := r.replaceMembers(ctx, group.UUID, group.UserUUIDs); err != nil {
		return domain.Group{}, err
	}
	return group, nil
}

func (r *PostgresGroupRepo) Update(ctx context.Context, group domain.Group) error {
	const query = `UPDATE groups SET name = $2, access_level = $3, permissions = $4, updated_at = now() WHERE uuid = $1`
	if _, err := r.db.Exec(ctx, query, group.UUID, group.Name, group.AccessLevel, permission.Strings(group.Permissions)); err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return r.replaceMembers(ctx, group.UUID, group.UserUUIDs)
}

func (r *PostgresGroupRepo) Delete(ctx context.Context, uuid string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM group_users WHERE group_uuid = $1`, uuid); err != nil {
		return fmt.Errorf("delete group members: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM groups WHERE uuid = $1`, uuid); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

func (r *PostgresGroupRepo) memberUUIDs(ctx context.Context, groupUUID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT user_uuid FROM group_users WHERE group_uuid = $1`, groupUUID)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("group members: %w", err)
		}
		members = append(members, uuid)
	}
	return members, rows.Err()
}

func (r *PostgresGroupRepo) replaceMembers(ctx context.Context, groupUUID string, userUUIDs []string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM group_users WHERE group_uuid = $1`, groupUUID); err != nil {
		return fmt.Errorf("replace group members: %w", err)
	}
	for _, userUUID := range userUUIDs {
		if _, err := r.db.Exec(ctx, `INSERT INTO group_users (group_uuid, user_uuid) VALUES ($1, $2)`, groupUUID, userUUID); err != nil {
			return fmt.Errorf("replace group members: %w", err)
		}
	}
	return nil
}

// PostgresRevocationRepo implements RevocationRepository on pgx.
type PostgresRevocationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRevocationRepo(pool *pgxpool.Pool) *PostgresRevocationRepo {
	return &PostgresRevocationRepo{db: pool}
}

func (r *PostgresRevocationRepo) Insert(ctx context.Context, token domain.RevokedToken) error {
	const query = `INSERT INTO invalid_jwts (id, token, expires_at) VALUES ($1, $2, $3) ON CONFLICT (token) DO NOTHING`
	if _, err := r.db.Exec(ctx, query, token.ID, token.Token, token.ExpiresAt); err != nil {
		return fmt.Errorf("insert revoked token: %w", err)
	}
	return nil
}

func (r *PostgresRevocationRepo) Exists(ctx context.Context, token string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM invalid_jwts WHERE token = $1)`
	if err := r.db.QueryRow(ctx, query, token).Scan(&exists); err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

func (r *PostgresRevocationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM invalid_jwts WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresKeyRepo implements KeyRepository on pgx.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) GetByName(ctx context.Context, name string) (domain.SigningKey, error) {
	const query = `SELECT id, name, private_pem, created_at FROM signing_keys WHERE name = $1`
	var key domain.SigningKey
	if err := r.db.QueryRow(ctx, query, name).Scan(&key.ID, &key.Name, &key.PrivatePEM, &key.CreatedAt); err != nil {
		return domain.SigningKey{}, fmt.Errorf("get signing key: %w", err)
	}
	return key, nil
}

func (r *PostgresKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	const query = `INSERT INTO signing_keys (name, private_pem) VALUES ($1, $2) RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, query, key.Name, key.PrivatePEM).Scan(&key.ID, &key.CreatedAt); err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert signing key: %w", err)
	}
	return key, nil
}

// PostgresPasskeyRepo implements PasskeyRepository on pgx.
type PostgresPasskeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresPasskeyRepo(pool *pgxpool.Pool) *PostgresPasskeyRepo {
	return &PostgresPasskeyRepo{db: pool}
}

const passkeyColumns = `id, user_uuid, name, credential_id, credential, sign_count, created_at, last_used`

func (r *PostgresPasskeyRepo) ListByUser(ctx context.Context, userUUID string) ([]domain.Passkey, error) {
	query := `SELECT ` + passkeyColumns + ` FROM passkeys WHERE user_uuid = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, userUUID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	defer rows.Close()

	var passkeys []domain.Passkey
	for rows.Next() {
		pk, err := scanPasskey(rows)
		if err != nil {
			return nil, fmt.Errorf("list passkeys: %w", err)
		}
		passkeys = append(passkeys, pk)
	}
	return passkeys, rows.Err()
}

func (r *PostgresPasskeyRepo) GetByCredentialID(ctx context.Context, credentialID string) (domain.Passkey, error) {
	query := `SELECT ` + passkeyColumns + ` FROM passkeys WHERE credential_id = $1`
	pk, err := scanPasskey(r.db.QueryRow(ctx, query, credentialID))
	if err != nil {
		return domain.Passkey{}, fmt.Errorf("get passkey: %w", err)
	}
	return pk, nil
}

const insertPasskeySQL = `INSERT INTO passkeys (id, user_uuid, name, credential_id, credential, sign_count, last_used)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`

func (r *PostgresPasskeyRepo) Create(ctx context.Context, passkey domain.Passkey) (domain.Passkey, error) {
	err := r.db.QueryRow(ctx, insertPasskeySQL,
		passkey.ID,
		passkey.UserUUID,
		passkey.Name,
		passkey.CredentialID,
		passkey.Credential,
		passkey.SignCount,
		passkey.LastUsed,
	).Scan(&passkey.CreatedAt)
	if err != nil {
		return domain.Passkey{}, fmt.Errorf("create passkey: %w", err)
	}
	return passkey, nil
}

func (r *PostgresPasskeyRepo) UpdateCredential(ctx context.Context, credentialID string, credential []byte, signCount uint32, lastUsed time.Time) error {
	const query = `UPDATE passkeys SET credential = $2, sign_count = $3, last_used = $4 WHERE credential_id = $1`
	if _, err := r.db.Exec(ctx, query, credentialID, credential, signCount, lastUsed); err != nil {
		return fmt.Errorf("update passkey: %w", err)
	}
	return nil
}

func (r *PostgresPasskeyRepo) Rename(ctx context.Context, userUUID string, id int64, name string) error {
	tag, err := r.db.Exec(ctx, `UPDATE passkeys SET name = $3 WHERE user_uuid = $1 AND id = $2`, userUUID, id, name)
	if err != nil {
		return fmt.Errorf("rename passkey: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rename passkey: %w", pgx.ErrNoRows)
	}
	return nil
}

func (r *PostgresPasskeyRepo) Delete(ctx context.Context, userUUID string, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM passkeys WHERE user_uuid = $1 AND id = $2`, userUUID, id)
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete passkey: %w", pgx.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		user     domain.User
		rawPerms []string
	)
	if err := row.Scan(
		&user.ID,
		&user.UUID,
		&user.Email,
		&user.Name,
		&user.Image,
		&user.PasswordHash,
		&rawPerms,
		&user.TOTPSecret,
		&user.TOTPCreated,
		&user.TOTPLastUsed,
		&user.LastLogin,
		&user.LastSpecialAccess,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	perms, err := permission.ParseAll(rawPerms)
	if err != nil {
		return domain.User{}, err
	}
	user.Permissions = perms
	return user, nil
}

func scanGroup(row rowScanner) (domain.Group, error) {
	var (
		group    domain.Group
		rawPerms []string
	)
	if err := row.Scan(
		&group.ID,
		&group.UUID,
		&group.Name,
		&group.AccessLevel,
		&rawPerms,
		&group.CreatedAt,
		&group.UpdatedAt,
	); err != nil {
		return domain.Group{}, err
	}
	perms, err := permission.ParseAll(rawPerms)
	if err != nil {
		return domain.Group{}, err
	}
	group.Permissions = perms
	return group, nil
}

func scanPasskey(row rowScanner) (domain.Passkey, error) {
	var pk domain.Passkey
	if err := row.Scan(
		&pk.ID,
		&pk.UserUUID,
		&pk.Name,
		&pk.CredentialID,
		&pk.Credential,
		&pk.SignCount,
		&pk.CreatedAt,
		&pk.LastUsed,
	); err != nil {
		return domain.Passkey{}, err
	}
	return pk, nil
}
