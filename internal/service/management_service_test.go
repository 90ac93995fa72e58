package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
	pw "github.com/solaceid/solace/internal/password"
	"github.com/solaceid/solace/internal/permission"
	"github.com/solaceid/solace/internal/repository"
)

func newManagementFixture(t *testing.T) (*ManagementService, *fakeUserRepo, *fakeGroupRepo, *fakeMgmtClientRepo) {
	t.Helper()
	users := &fakeUserRepo{users: map[string]domain.User{}}
	groups := &fakeGroupRepo{groups: map[string]domain.Group{}}
	clients := &fakeMgmtClientRepo{clients: map[string]domainoauth.Client{}}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	cfg := config.Config{AuthPepper: testPepper}
	svc := NewManagementService(users, groups, clients, node, cfg, zap.NewNop())
	return svc, users, groups, clients
}

func adminActor() UserInfo {
	return UserInfo{
		User:        domain.User{UUID: "admin-uuid"},
		Permissions: permission.All,
		AccessLevel: 10,
	}
}

func TestCreateUserRequiresPermission(t *testing.T) {
	svc, _, _, _ := newManagementFixture(t)

	actor := adminActor()
	actor.Permissions = []permission.Permission{permission.UserList}
	_, err := svc.CreateUser(context.Background(), actor, UserInput{Email: "a@b.c", Password: "pw"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCreateUserGrantsOnlyHeldPermissions(t *testing.T) {
	svc, users, _, _ := newManagementFixture(t)
	ctx := context.Background()

	actor := adminActor()
	actor.Permissions = []permission.Permission{permission.UserCreate, permission.UserList}

	_, err := svc.CreateUser(ctx, actor, UserInput{
		Email:       "new@example.com",
		Password:    "pw",
		Permissions: []string{"group_delete"},
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	created, err := svc.CreateUser(ctx, actor, UserInput{
		Email:       "new@example.com",
		Password:    "pw",
		Permissions: []string{"user_list"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.UUID)
	require.NotEqual(t, "pw", users.users[created.UUID].PasswordHash)

	valid, err := pw.Verify("pw", testPepper, users.users[created.UUID].PasswordHash)
	require.NoError(t, err)
	require.True(t, valid)

	_, err = svc.CreateUser(ctx, actor, UserInput{Email: "new@example.com", Password: "pw"})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateAssignsDistinctRowIDs(t *testing.T) {
	svc, _, _, _ := newManagementFixture(t)
	ctx := context.Background()
	actor := adminActor()

	first, err := svc.CreateUser(ctx, actor, UserInput{Email: "one@example.com", Password: "pw"})
	require.NoError(t, err)
	second, err := svc.CreateUser(ctx, actor, UserInput{Email: "two@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	require.NotZero(t, second.ID)
	require.NotEqual(t, first.ID, second.ID)

	group, err := svc.CreateGroup(ctx, actor, GroupInput{Name: "staff", AccessLevel: 1})
	require.NoError(t, err)
	require.NotZero(t, group.ID)

	client, err := svc.CreateClient(ctx, actor, ClientInput{Name: "app", RedirectURI: "https://app.example.com/cb"})
	require.NoError(t, err)
	require.NotZero(t, client.Client.ID)
}

func TestEditUserAccessLevelBoundary(t *testing.T) {
	svc, users, _, _ := newManagementFixture(t)
	ctx := context.Background()

	users.users["peer"] = domain.User{UUID: "peer", Email: "peer@example.com"}
	users.groups = []domain.Group{{UUID: "g", AccessLevel: 10}}

	// Target sits at the actor's own level; strict ordering blocks the edit.
	err := svc.EditUser(ctx, adminActor(), UserInput{UUID: "peer", Name: "renamed"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	users.groups = []domain.Group{{UUID: "g", AccessLevel: 3}}
	require.NoError(t, svc.EditUser(ctx, adminActor(), UserInput{UUID: "peer", Name: "renamed"}))
	require.Equal(t, "renamed", users.users["peer"].Name)
}

func TestEditUserPermissionSymmetricDifference(t *testing.T) {
	svc, users, _, _ := newManagementFixture(t)
	ctx := context.Background()

	users.users["target"] = domain.User{
		UUID:        "target",
		Permissions: []permission.Permission{permission.GroupDelete},
	}

	actor := adminActor()
	actor.Permissions = []permission.Permission{permission.UserEdit, permission.UserList}

	// Removing group_delete is a change outside the actor's own set.
	err := svc.EditUser(ctx, actor, UserInput{UUID: "target", Permissions: []string{}})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	// Adding a permission the actor holds is fine; untouched ones survive.
	err = svc.EditUser(ctx, actor, UserInput{UUID: "target", Permissions: []string{"group_delete", "user_list"}})
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]permission.Permission{permission.GroupDelete, permission.UserList},
		users.users["target"].Permissions,
	)
}

func TestDeleteUser(t *testing.T) {
	svc, users, _, _ := newManagementFixture(t)
	ctx := context.Background()

	users.users["victim"] = domain.User{UUID: "victim"}
	require.NoError(t, svc.DeleteUser(ctx, adminActor(), "victim"))
	require.NotContains(t, users.users, "victim")

	err := svc.DeleteUser(ctx, adminActor(), "victim")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateGroupBelowActorLevel(t *testing.T) {
	svc, _, groups, _ := newManagementFixture(t)
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, adminActor(), GroupInput{Name: "too-high", AccessLevel: 10})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	created, err := svc.CreateGroup(ctx, adminActor(), GroupInput{
		Name:        "staff",
		AccessLevel: 5,
		Permissions: []string{"user_list"},
	})
	require.NoError(t, err)
	require.Contains(t, groups.groups, created.UUID)
}

func TestEditGroupLevelChecksBothSides(t *testing.T) {
	svc, _, groups, _ := newManagementFixture(t)
	ctx := context.Background()

	groups.groups["g1"] = domain.Group{UUID: "g1", Name: "staff", AccessLevel: 5}

	// Raising a group to the actor's own level is blocked.
	err := svc.EditGroup(ctx, adminActor(), GroupInput{UUID: "g1", AccessLevel: 10})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, svc.EditGroup(ctx, adminActor(), GroupInput{UUID: "g1", AccessLevel: 2}))
	require.EqualValues(t, 2, groups.groups["g1"].AccessLevel)
}

func TestClientLifecycle(t *testing.T) {
	svc, _, _, clients := newManagementFixture(t)
	ctx := context.Background()

	created, err := svc.CreateClient(ctx, adminActor(), ClientInput{
		Name:         "My App",
		Confidential: true,
		RedirectURI:  "https://app.example.com/cb",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.Secret)
	require.NotEmpty(t, created.Client.SecretHash)

	valid, err := pw.Verify(created.Secret, testPepper, created.Client.SecretHash)
	require.NoError(t, err)
	require.True(t, valid)

	err = svc.EditClient(ctx, adminActor(), ClientInput{
		ClientID: created.Client.ClientID,
		Name:     "Renamed App",
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed App", clients.clients[created.Client.ClientID].Name)
	// The secret hash is untouched by edits.
	require.Equal(t, created.Client.SecretHash, clients.clients[created.Client.ClientID].SecretHash)

	require.NoError(t, svc.DeleteClient(ctx, adminActor(), created.Client.ClientID))
	require.NotContains(t, clients.clients, created.Client.ClientID)
}

func TestListEndpointsRequirePermissions(t *testing.T) {
	svc, _, _, _ := newManagementFixture(t)
	ctx := context.Background()

	nobody := UserInfo{User: domain.User{UUID: "nobody"}}
	_, err := svc.ListUsers(ctx, nobody)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.ListGroups(ctx, nobody)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.ListClients(ctx, nobody)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

type fakeGroupRepo struct {
	groups map[string]domain.Group
}

var _ repository.GroupRepository = (*fakeGroupRepo)(nil)

func (r *fakeGroupRepo) GetByUUID(ctx context.Context, uuid string) (domain.Group, error) {
	group, ok := r.groups[uuid]
	if !ok {
		return domain.Group{}, pgx.ErrNoRows
	}
	return group, nil
}

func (r *fakeGroupRepo) List(ctx context.Context) ([]domain.Group, error) {
	out := make([]domain.Group, 0, len(r.groups))
	for _, group := range r.groups {
		out = append(out, group)
	}
	return out, nil
}

func (r *fakeGroupRepo) Create(ctx context.Context, group domain.Group) (domain.Group, error) {
	r.groups[group.UUID] = group
	return group, nil
}

func (r *fakeGroupRepo) Update(ctx context.Context, group domain.Group) error {
	if _, ok := r.groups[group.UUID]; !ok {
		return pgx.ErrNoRows
	}
	r.groups[group.UUID] = group
	return nil
}

func (r *fakeGroupRepo) Delete(ctx context.Context, uuid string) error {
	if _, ok := r.groups[uuid]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.groups, uuid)
	return nil
}

type fakeMgmtClientRepo struct {
	clients map[string]domainoauth.Client
}

var _ repository.ClientRepository = (*fakeMgmtClientRepo)(nil)

func (r *fakeMgmtClientRepo) GetByClientID(ctx context.Context, clientID string) (domainoauth.Client, error) {
	client, ok := r.clients[clientID]
	if !ok {
		return domainoauth.Client{}, pgx.ErrNoRows
	}
	return client, nil
}

func (r *fakeMgmtClientRepo) List(ctx context.Context) ([]domainoauth.Client, error) {
	out := make([]domainoauth.Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	return out, nil
}

func (r *fakeMgmtClientRepo) Create(ctx context.Context, client domainoauth.Client) (domainoauth.Client, error) {
	r.clients[client.ClientID] = client
	return client, nil
}

func (r *fakeMgmtClientRepo) Update(ctx context.Context, client domainoauth.Client) error {
	if _, ok := r.clients[client.ClientID]; !ok {
		return pgx.ErrNoRows
	}
	r.clients[client.ClientID] = client
	return nil
}

func (r *fakeMgmtClientRepo) Delete(ctx context.Context, clientID string) error {
	if _, ok := r.clients[clientID]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.clients, clientID)
	return nil
}

func (r *fakeMgmtClientRepo) AllowsUser(ctx context.Context, clientID, userUUID string) (bool, error) {
	return true, nil
}
