package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
	pw "github.com/solaceid/solace/internal/password"
	"github.com/solaceid/solace/internal/permission"
	"github.com/solaceid/solace/internal/repository"
)

// UserInput carries a management create/edit request for a user.
type UserInput struct {
	UUID        string   `json:"uuid"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Image       string   `json:"image"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

// GroupInput carries a management create/edit request for a group.
type GroupInput struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	AccessLevel int32    `json:"access_level"`
	Permissions []string `json:"permissions"`
	Users       []string `json:"users"`
}

// ClientInput carries a management create/edit request for an OAuth client.
type ClientInput struct {
	ClientID               string   `json:"client_id"`
	Name                   string   `json:"name"`
	Confidential           bool     `json:"confidential"`
	RedirectURI            string   `json:"redirect_uri"`
	AdditionalRedirectURIs []string `json:"additional_redirect_uris"`
	DefaultScope           string   `json:"default_scope"`
	GroupAccess            []string `json:"group_access"`
	UserAccess             []string `json:"user_access"`
}

// CreatedClient is returned on client creation. The secret is shown
// exactly once; only its hash is stored.
type CreatedClient struct {
	Client domainoauth.Client `json:"client"`
	Secret string             `json:"secret,omitempty"`
}

// ManagementService applies the privilege model to user, group, and
// OAuth client administration.
type ManagementService struct {
	users   repository.UserRepository
	groups  repository.GroupRepository
	clients repository.ClientRepository
	node    *snowflake.Node
	cfg     config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewManagementService(users repository.UserRepository, groups repository.GroupRepository, clients repository.ClientRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *ManagementService {
	return &ManagementService{
		users:   users,
		groups:  groups,
		clients: clients,
		node:    node,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/solaceid/solace/internal/service"),
	}
}

// ListUsers returns all users for an actor holding user_list.
func (s *ManagementService) ListUsers(ctx context.Context, actor UserInfo) ([]domain.User, error) {
	if !permission.Contains(actor.Permissions, permission.UserList) {
		return nil, domain.ErrUnauthorized
	}
	return s.users.List(ctx)
}

// CreateUser creates a user. Granted permissions must already be held by
// the actor.
func (s *ManagementService) CreateUser(ctx context.Context, actor UserInfo, input UserInput) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "ManagementService.CreateUser")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.UserCreate) {
		return domain.User{}, domain.ErrUnauthorized
	}
	perms, err := permission.ParseAll(input.Permissions)
	if err != nil {
		return domain.User{}, domain.ErrBadRequest
	}
	if !permission.CanEdit(actor.Permissions, nil, perms) {
		return domain.User{}, domain.ErrUnauthorized
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return domain.User{}, domain.ErrBadRequest
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return domain.User{}, domain.ErrConflict
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := pw.Hash(input.Password, s.cfg.AuthPepper)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           s.node.Generate().Int64(),
		UUID:         uuid.NewString(),
		Email:        email,
		Name:         input.Name,
		Image:        input.Image,
		PasswordHash: hash,
		Permissions:  perms,
	}
	created, err := s.users.Create(ctx, user)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	audit(s.log(), "management.user.created", "actor", actor.User.UUID, "user", created.UUID)
	return created, nil
}

// EditUser updates profile fields and direct permissions. The actor must
// outrank the target and may only toggle permissions they hold.
func (s *ManagementService) EditUser(ctx context.Context, actor UserInfo, input UserInput) error {
	ctx, span := s.startSpan(ctx, "ManagementService.EditUser")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.UserEdit) {
		return domain.ErrUnauthorized
	}
	target, targetLevel, err := s.loadTarget(ctx, input.UUID)
	if err != nil {
		return err
	}
	if !permission.CanActOn(actor.AccessLevel, targetLevel) {
		return domain.ErrUnauthorized
	}

	perms := target.Permissions
	if input.Permissions != nil {
		perms, err = permission.ParseAll(input.Permissions)
		if err != nil {
			return domain.ErrBadRequest
		}
		if !permission.CanEdit(actor.Permissions, target.Permissions, perms) {
			return domain.ErrUnauthorized
		}
	}

	if input.Email != "" {
		target.Email = strings.ToLower(strings.TrimSpace(input.Email))
	}
	if input.Name != "" {
		target.Name = input.Name
	}
	if input.Image != "" {
		target.Image = input.Image
	}
	target.Permissions = perms
	if err := s.users.Update(ctx, target); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	audit(s.log(), "management.user.edited", "actor", actor.User.UUID, "user", target.UUID)
	return nil
}

// DeleteUser removes a user the actor outranks. Membership rows and
// client grants cascade in the repository.
func (s *ManagementService) DeleteUser(ctx context.Context, actor UserInfo, userUUID string) error {
	ctx, span := s.startSpan(ctx, "ManagementService.DeleteUser")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.UserDelete) {
		return domain.ErrUnauthorized
	}
	_, targetLevel, err := s.loadTarget(ctx, userUUID)
	if err != nil {
		return err
	}
	if !permission.CanActOn(actor.AccessLevel, targetLevel) {
		return domain.ErrUnauthorized
	}
	if err := s.users.Delete(ctx, userUUID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	audit(s.log(), "management.user.deleted", "actor", actor.User.UUID, "user", userUUID)
	return nil
}

// ListGroups returns all groups for an actor holding group_list.
func (s *ManagementService) ListGroups(ctx context.Context, actor UserInfo) ([]domain.Group, error) {
	if !permission.Contains(actor.Permissions, permission.GroupList) {
		return nil, domain.ErrUnauthorized
	}
	return s.groups.List(ctx)
}

// CreateGroup creates a group strictly below the actor's access level,
// carrying only permissions the actor holds.
func (s *ManagementService) CreateGroup(ctx context.Context, actor UserInfo, input GroupInput) (domain.Group, error) {
	ctx, span := s.startSpan(ctx, "ManagementService.CreateGroup")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.GroupCreate) {
		return domain.Group{}, domain.ErrUnauthorized
	}
	if input.Name == "" {
		return domain.Group{}, domain.ErrBadRequest
	}
	if !permission.CanActOn(actor.AccessLevel, input.AccessLevel) {
		return domain.Group{}, domain.ErrUnauthorized
	}
	perms, err := permission.ParseAll(input.Permissions)
	if err != nil {
		return domain.Group{}, domain.ErrBadRequest
	}
	if !permission.CanEdit(actor.Permissions, nil, perms) {
		return domain.Group{}, domain.ErrUnauthorized
	}

	group := domain.Group{
		ID:          s.node.Generate().Int64(),
		UUID:        uuid.NewString(),
		Name:        input.Name,
		AccessLevel: input.AccessLevel,
		Permissions: perms,
		UserUUIDs:   input.Users,
	}
	created, err := s.groups.Create(ctx, group)
	if err != nil {
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}
	audit(s.log(), "management.group.created", "actor", actor.User.UUID, "group", created.UUID)
	return created, nil
}

// EditGroup updates a group. Both the current and the requested access
// level must sit strictly below the actor's.
func (s *ManagementService) EditGroup(ctx context.Context, actor UserInfo, input GroupInput) error {
	ctx, span := s.startSpan(ctx, "ManagementService.EditGroup")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.GroupEdit) {
		return domain.ErrUnauthorized
	}
	group, err := s.groups.GetByUUID(ctx, input.UUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("load group: %w", err)
	}
	if !permission.CanActOn(actor.AccessLevel, group.AccessLevel) {
		return domain.ErrUnauthorized
	}
	if !permission.CanActOn(actor.AccessLevel, input.AccessLevel) {
		return domain.ErrUnauthorized
	}

	perms := group.Permissions
	if input.Permissions != nil {
		perms, err = permission.ParseAll(input.Permissions)
		if err != nil {
			return domain.ErrBadRequest
		}
		if !permission.CanEdit(actor.Permissions, group.Permissions, perms) {
			return domain.ErrUnauthorized
		}
	}

	if input.Name != "" {
		group.Name = input.Name
	}
	group.AccessLevel = input.AccessLevel
	group.Permissions = perms
	if input.Users != nil {
		group.UserUUIDs = input.Users
	}
	if err := s.groups.Update(ctx, group); err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	audit(s.log(), "management.group.edited", "actor", actor.User.UUID, "group", group.UUID)
	return nil
}

// DeleteGroup removes a group the actor outranks.
func (s *ManagementService) DeleteGroup(ctx context.Context, actor UserInfo, groupUUID string) error {
	ctx, span := s.startSpan(ctx, "ManagementService.DeleteGroup")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.GroupDelete) {
		return domain.ErrUnauthorized
	}
	group, err := s.groups.GetByUUID(ctx, groupUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("load group: %w", err)
	}
	if !permission.CanActOn(actor.AccessLevel, group.AccessLevel) {
		return domain.ErrUnauthorized
	}
	if err := s.groups.Delete(ctx, groupUUID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	audit(s.log(), "management.group.deleted", "actor", actor.User.UUID, "group", groupUUID)
	return nil
}

// ListClients returns all OAuth clients for an actor holding
// oauth_client_list.
func (s *ManagementService) ListClients(ctx context.Context, actor UserInfo) ([]domainoauth.Client, error) {
	if !permission.Contains(actor.Permissions, permission.OAuthClientList) {
		return nil, domain.ErrUnauthorized
	}
	return s.clients.List(ctx)
}

// CreateClient registers an OAuth client. Confidential clients get a
// generated secret returned once in plaintext.
func (s *ManagementService) CreateClient(ctx context.Context, actor UserInfo, input ClientInput) (CreatedClient, error) {
	ctx, span := s.startSpan(ctx, "ManagementService.CreateClient")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.OAuthClientCreate) {
		return CreatedClient{}, domain.ErrUnauthorized
	}
	if input.Name == "" || input.RedirectURI == "" {
		return CreatedClient{}, domain.ErrBadRequest
	}

	client := domainoauth.Client{
		ID:                     s.node.Generate().Int64(),
		ClientID:               uuid.NewString(),
		Name:                   input.Name,
		Confidential:           input.Confidential,
		RedirectURI:            input.RedirectURI,
		AdditionalRedirectURIs: input.AdditionalRedirectURIs,
		DefaultScope:           input.DefaultScope,
		GroupAccess:            input.GroupAccess,
		UserAccess:             input.UserAccess,
	}

	var secret string
	if input.Confidential {
		var err error
		secret, err = newClientSecret()
		if err != nil {
			return CreatedClient{}, err
		}
		client.SecretHash, err = pw.Hash(secret, s.cfg.AuthPepper)
		if err != nil {
			return CreatedClient{}, fmt.Errorf("hash client secret: %w", err)
		}
	}

	created, err := s.clients.Create(ctx, client)
	if err != nil {
		return CreatedClient{}, fmt.Errorf("create client: %w", err)
	}
	audit(s.log(), "management.client.created", "actor", actor.User.UUID, "client", created.ClientID)
	return CreatedClient{Client: created, Secret: secret}, nil
}

// EditClient updates client metadata and grants. The secret and the
// confidential flag stay as they are.
func (s *ManagementService) EditClient(ctx context.Context, actor UserInfo, input ClientInput) error {
	ctx, span := s.startSpan(ctx, "ManagementService.EditClient")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.OAuthClientEdit) {
		return domain.ErrUnauthorized
	}
	client, err := s.clients.GetByClientID(ctx, input.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("load client: %w", err)
	}

	if input.Name != "" {
		client.Name = input.Name
	}
	if input.RedirectURI != "" {
		client.RedirectURI = input.RedirectURI
	}
	if input.AdditionalRedirectURIs != nil {
		client.AdditionalRedirectURIs = input.AdditionalRedirectURIs
	}
	if input.DefaultScope != "" {
		client.DefaultScope = input.DefaultScope
	}
	if input.GroupAccess != nil {
		client.GroupAccess = input.GroupAccess
	}
	if input.UserAccess != nil {
		client.UserAccess = input.UserAccess
	}
	if err := s.clients.Update(ctx, client); err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	audit(s.log(), "management.client.edited", "actor", actor.User.UUID, "client", client.ClientID)
	return nil
}

// DeleteClient removes a client registration and its grants.
func (s *ManagementService) DeleteClient(ctx context.Context, actor UserInfo, clientID string) error {
	ctx, span := s.startSpan(ctx, "ManagementService.DeleteClient")
	defer span.End()

	if !permission.Contains(actor.Permissions, permission.OAuthClientDelete) {
		return domain.ErrUnauthorized
	}
	if err := s.clients.Delete(ctx, clientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete client: %w", err)
	}
	audit(s.log(), "management.client.deleted", "actor", actor.User.UUID, "client", clientID)
	return nil
}

func (s *ManagementService) loadTarget(ctx context.Context, userUUID string) (domain.User, int32, error) {
	target, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, 0, domain.ErrNotFound
		}
		return domain.User{}, 0, fmt.Errorf("load user: %w", err)
	}
	groups, err := s.users.GroupsOf(ctx, userUUID)
	if err != nil {
		return domain.User{}, 0, fmt.Errorf("load groups: %w", err)
	}
	levels := make([]int32, 0, len(groups))
	for _, g := range groups {
		levels = append(levels, g.AccessLevel)
	}
	return target, permission.HighestAccessLevel(levels), nil
}

func newClientSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (s *ManagementService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *ManagementService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
