package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
)

var (
	_ ClientRepository = (*PostgresClientRepo)(nil)
	_ PolicyRepository = (*PostgresPolicyRepo)(nil)
)

// PostgresClientRepo implements ClientRepository on pgx.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const clientColumns = `id, client_id, name, COALESCE(secret_hash, ''), confidential, redirect_uri,
additional_redirect_uris, default_scope, created_at, updated_at`

func (r *PostgresClientRepo) GetByClientID(ctx context.Context, clientID string) (domainoauth.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM oauth_clients WHERE client_id = $1`
	client, err := scanClient(r.db.QueryRow(ctx, query, clientID))
	if err != nil {
		return domainoauth.Client{}, fmt.Errorf("get oauth client: %w", err)
	}
	if err := r.loadGrants(ctx, &client); err != nil {
		return domainoauth.Client{}, err
	}
	return client, nil
}

func (r *PostgresClientRepo) List(ctx context.Context) ([]domainoauth.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM oauth_clients ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list oauth clients: %w", err)
	}
	defer rows.Close()

	var clients []domainoauth.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("list oauth clients: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range clients {
		if err := r.loadGrants(ctx, &clients[i]); err != nil {
			return nil, err
		}
	}
	return clients, nil
}

const insertClientSQL = `INSERT INTO oauth_clients (id, client_id, name, secret_hash, confidential, redirect_uri, additional_redirect_uris, default_scope)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
RETURNING created_at, updated_at`

func (r *PostgresClientRepo) Create(ctx context.Context, client domainoauth.Client) (domainoauth.Client, error) {
	err := r.db.QueryRow(ctx, insertClientSQL,
		client.ID,
		client.ClientID,
		client.Name,
		client.SecretHash,
		client.Confidential,
		client.RedirectURI,
		client.AdditionalRedirectURIs,
		client.DefaultScope,
	).Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return domainoauth.Client{}, fmt.Errorf("create oauth client: %w", err)
	}
	if err := r.replaceGrants(ctx, client); err != nil {
		return domainoauth.Client{}, err
	}
	return client, nil
}

func (r *PostgresClientRepo) Update(ctx context.Context, client domainoauth.Client) error {
	const query = `UPDATE oauth_clients SET name = $2, redirect_uri = $3, additional_redirect_uris = $4, default_scope = $5, updated_at = now()
WHERE client_id = $1`
	if _, err := r.db.Exec(ctx, query, client.ClientID, client.Name, client.RedirectURI, client.AdditionalRedirectURIs, client.DefaultScope); err != nil {
		return fmt.Errorf("update oauth client: %w", err)
	}
	return r.replaceGrants(ctx, client)
}

func (r *PostgresClientRepo) Delete(ctx context.Context, clientID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_client_user_grants WHERE client_id = $1`, clientID); err != nil {
		return fmt.Errorf("delete oauth client grants: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_client_group_grants WHERE client_id = $1`, clientID); err != nil {
		return fmt.Errorf("delete oauth client grants: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_clients WHERE client_id = $1`, clientID); err != nil {
		return fmt.Errorf("delete oauth client: %w", err)
	}
	return nil
}

const allowsUserSQL = `SELECT
EXISTS (SELECT 1 FROM oauth_client_user_grants WHERE client_id = $1 AND user_uuid = $2)
OR EXISTS (
	SELECT 1 FROM oauth_client_group_grants cg
	JOIN group_users gu ON gu.group_uuid = cg.group_uuid
	WHERE cg.client_id = $1 AND gu.user_uuid = $2
)`

func (r *PostgresClientRepo) AllowsUser(ctx context.Context, clientID, userUUID string) (bool, error) {
	var allowed bool
	if err := r.db.QueryRow(ctx, allowsUserSQL, clientID, userUUID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("check client access: %w", err)
	}
	return allowed, nil
}

func (r *PostgresClientRepo) loadGrants(ctx context.Context, client *domainoauth.Client) error {
	users, err := r.grantList(ctx, `SELECT user_uuid FROM oauth_client_user_grants WHERE client_id = $1`, client.ClientID)
	if err != nil {
		return err
	}
	groups, err := r.grantList(ctx, `SELECT group_uuid FROM oauth_client_group_grants WHERE client_id = $1`, client.ClientID)
	if err != nil {
		return err
	}
	client.UserAccess = users
	client.GroupAccess = groups
	return nil
}

func (r *PostgresClientRepo) grantList(ctx context.Context, query, clientID string) ([]string, error) {
	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client grants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("load client grants: %w", err)
		}
		out = append(out, uuid)
	}
	return out, rows.Err()
}

func (r *PostgresClientRepo) replaceGrants(ctx context.Context, client domainoauth.Client) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_client_user_grants WHERE client_id = $1`, client.ClientID); err != nil {
		return fmt.Errorf("replace client grants: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_client_group_grants WHERE client_id = $1`, client.ClientID); err != nil {
		return fmt.Errorf("replace client grants: %w", err)
	}
	for _, userUUID := range client.UserAccess {
		if _, err := r.db.Exec(ctx, `INSERT INTO oauth_client_user_grants (client_id, user_uuid) VALUES ($1, $2)`, client.ClientID, userUUID); err != nil {
			return fmt.Errorf("replace client grants: %w", err)
		}
	}
	for _, groupUUID := range client.GroupAccess {
		if _, err := r.db.Exec(ctx, `INSERT INTO oauth_client_group_grants (client_id, group_uuid) VALUES ($1, $2)`, client.ClientID, groupUUID); err != nil {
			return fmt.Errorf("replace client grants: %w", err)
		}
	}
	return nil
}

func scanClient(row rowScanner) (domainoauth.Client, error) {
	var client domainoauth.Client
	if err := row.Scan(
		&client.ID,
		&client.ClientID,
		&client.Name,
		&client.SecretHash,
		&client.Confidential,
		&client.RedirectURI,
		&client.AdditionalRedirectURIs,
		&client.DefaultScope,
		&client.CreatedAt,
		&client.UpdatedAt,
	); err != nil {
		return domainoauth.Client{}, err
	}
	return client, nil
}

// PostgresPolicyRepo implements PolicyRepository on pgx.
type PostgresPolicyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresPolicyRepo(pool *pgxpool.Pool) *PostgresPolicyRepo {
	return &PostgresPolicyRepo{db: pool}
}

const scopePoliciesSQL = `SELECT p.id, p.name, p.claim, p.default_content
FROM oauth_policies p
JOIN oauth_scope_policies sp ON sp.policy_id = p.id
WHERE sp.scope_id = $1
ORDER BY p.id`

const policyGroupsSQL = `SELECT pg.group_uuid, g.access_level, pg.content
FROM oauth_policy_groups pg
JOIN groups g ON g.uuid = pg.group_uuid
WHERE pg.policy_id = $1`

func (r *PostgresPolicyRepo) GetScopeMapping(ctx context.Context, name string) (domainoauth.ScopeMapping, error) {
	var mapping domainoauth.ScopeMapping
	if err := r.db.QueryRow(ctx, `SELECT id, name FROM oauth_scopes WHERE name = $1`, name).Scan(&mapping.ID, &mapping.Name); err != nil {
		return domainoauth.ScopeMapping{}, fmt.Errorf("get scope: %w", err)
	}

	rows, err := r.db.Query(ctx, scopePoliciesSQL, mapping.ID)
	if err != nil {
		return domainoauth.ScopeMapping{}, fmt.Errorf("scope policies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pol domainoauth.Policy
		if err := rows.Scan(&pol.ID, &pol.Name, &pol.Claim, &pol.DefaultContent); err != nil {
			return domainoauth.ScopeMapping{}, fmt.Errorf("scope policies: %w", err)
		}
		mapping.Policies = append(mapping.Policies, pol)
	}
	if err := rows.Err(); err != nil {
		return domainoauth.ScopeMapping{}, err
	}

	for i := range mapping.Policies {
		contents, err := r.policyGroupContents(ctx, mapping.Policies[i].ID)
		if err != nil {
			return domainoauth.ScopeMapping{}, err
		}
		mapping.Policies[i].GroupContents = contents
	}
	return mapping, nil
}

func (r *PostgresPolicyRepo) policyGroupContents(ctx context.Context, policyID int64) ([]domainoauth.PolicyGroupContent, error) {
	rows, err := r.db.Query(ctx, policyGroupsSQL, policyID)
	if err != nil {
		return nil, fmt.Errorf("policy group contents: %w", err)
	}
	defer rows.Close()

	var contents []domainoauth.PolicyGroupContent
	for rows.Next() {
		var content domainoauth.PolicyGroupContent
		if err := rows.Scan(&content.GroupUUID, &content.AccessLevel, &content.Content); err != nil {
			return nil, fmt.Errorf("policy group contents: %w", err)
		}
		contents = append(contents, content)
	}
	return contents, rows.Err()
}
