package policy_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/solaceid/solace/internal/domain"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
	"github.com/solaceid/solace/internal/policy"
	"github.com/solaceid/solace/internal/scope"
)

func TestResolveDefaultScopeClaims(t *testing.T) {
	resolver := policy.NewResolver(fakePolicyRepo{})
	user := domain.User{UUID: "u1", Name: "Ada", Email: "ada@example.com", Image: "https://img.example/a.png"}
	groups := []domain.Group{{UUID: "g1", Name: "staff"}}

	claims, err := resolver.Resolve(context.Background(), user, groups, scope.Parse("openid profile email image"))
	require.NoError(t, err)
	require.Equal(t, "Ada", claims["name"])
	require.Equal(t, "Ada", claims["preferred_username"])
	require.Equal(t, "ada@example.com", claims["email"])
	require.Equal(t, "https://img.example/a.png", claims["image"])
	require.Equal(t, []string{"staff"}, claims["groups"])
}

func TestResolveOmitsUngrantedClaims(t *testing.T) {
	resolver := policy.NewResolver(fakePolicyRepo{})
	user := domain.User{UUID: "u1", Name: "Ada", Email: "ada@example.com"}

	claims, err := resolver.Resolve(context.Background(), user, nil, scope.Parse("openid profile"))
	require.NoError(t, err)
	require.Equal(t, "Ada", claims["name"])
	require.NotContains(t, claims, "email")
}

func TestResolveGroupOverrideWithHighestLevelWins(t *testing.T) {
	repo := fakePolicyRepo{
		"roles": {
			Name: "roles",
			Policies: []domainoauth.Policy{{
				Claim:          "role",
				DefaultContent: `"viewer"`,
				GroupContents: []domainoauth.PolicyGroupContent{
					{GroupUUID: "g1", AccessLevel: 1, Content: `"editor"`},
					{GroupUUID: "g2", AccessLevel: 5, Content: `"admin"`},
					{GroupUUID: "g3", AccessLevel: 9, Content: `"owner"`},
				},
			}},
		},
	}
	resolver := policy.NewResolver(repo)
	user := domain.User{UUID: "u1"}
	groups := []domain.Group{{UUID: "g1"}, {UUID: "g2"}}

	claims, err := resolver.Resolve(context.Background(), user, groups, scope.Parse("openid roles"))
	require.NoError(t, err)
	// g3 has the highest level but the user is not a member of it.
	require.Equal(t, "admin", claims["role"])
}

func TestResolveFallsBackToDefaultContent(t *testing.T) {
	repo := fakePolicyRepo{
		"roles": {
			Name: "roles",
			Policies: []domainoauth.Policy{{
				Claim:          "role",
				DefaultContent: `{"level": 0}`,
				GroupContents: []domainoauth.PolicyGroupContent{
					{GroupUUID: "g9", AccessLevel: 3, Content: `"editor"`},
				},
			}},
		},
	}
	resolver := policy.NewResolver(repo)

	claims, err := resolver.Resolve(context.Background(), domain.User{UUID: "u1"}, nil, scope.Parse("roles"))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"level": float64(0)}, claims["role"])
}

func TestResolveNonJSONContentStaysString(t *testing.T) {
	repo := fakePolicyRepo{
		"plan": {
			Name:     "plan",
			Policies: []domainoauth.Policy{{Claim: "plan", DefaultContent: "free tier"}},
		},
	}
	resolver := policy.NewResolver(repo)

	claims, err := resolver.Resolve(context.Background(), domain.User{UUID: "u1"}, nil, scope.Parse("plan"))
	require.NoError(t, err)
	require.Equal(t, "free tier", claims["plan"])
}

func TestResolveSkipsUnknownScopeTokens(t *testing.T) {
	resolver := policy.NewResolver(fakePolicyRepo{})

	claims, err := resolver.Resolve(context.Background(), domain.User{UUID: "u1"}, nil, scope.Parse("openid mystery"))
	require.NoError(t, err)
	require.NotContains(t, claims, "mystery")
}

type fakePolicyRepo map[string]domainoauth.ScopeMapping

func (f fakePolicyRepo) GetScopeMapping(ctx context.Context, name string) (domainoauth.ScopeMapping, error) {
	mapping, ok := f[name]
	if !ok {
		return domainoauth.ScopeMapping{}, pgx.ErrNoRows
	}
	return mapping, nil
}
