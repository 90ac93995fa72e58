package scope_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solaceid/solace/internal/scope"
)

func TestParseDeduplicatesPreservingOrder(t *testing.T) {
	s := scope.Parse("openid profile openid email profile")
	require.Equal(t, []string{"openid", "profile", "email"}, s.Tokens())
	require.Equal(t, "openid profile email", s.String())
}

func TestEqualIgnoresOrder(t *testing.T) {
	a := scope.Parse("openid email profile")
	b := scope.Parse("profile openid email")
	require.True(t, a.Equal(b))
	require.True(t, b.Equal(a))
}

func TestIntersectFollowsReceiverOrder(t *testing.T) {
	a := scope.Parse("openid profile email image")
	b := scope.Parse("image openid custom")

	require.Equal(t, []string{"openid", "image"}, a.Intersect(b).Tokens())
	require.Equal(t, []string{"image", "openid"}, b.Intersect(a).Tokens())
	require.True(t, a.Intersect(b).Equal(b.Intersect(a)))
}

func TestIntersectionIsBoundedAbove(t *testing.T) {
	a := scope.Parse("openid profile email")
	b := scope.Parse("profile image")
	both := a.Intersect(b)

	require.True(t, a.GreaterEq(both))
	require.True(t, b.GreaterEq(both))
}

func TestCompareIsAPartialOrder(t *testing.T) {
	full := scope.Parse("openid profile email")
	sub := scope.Parse("openid email")
	other := scope.Parse("openid image")

	cmp, ok := full.Compare(sub)
	require.True(t, ok)
	require.Equal(t, 1, cmp)

	cmp, ok = sub.Compare(full)
	require.True(t, ok)
	require.Equal(t, -1, cmp)

	cmp, ok = sub.Compare(scope.Parse("email openid"))
	require.True(t, ok)
	require.Equal(t, 0, cmp)

	_, ok = sub.Compare(other)
	require.False(t, ok)
}

func TestNonDefaultFiltersDefaultTokens(t *testing.T) {
	s := scope.Parse("openid groups email roles image")
	require.Equal(t, []string{"groups", "roles"}, s.NonDefault())
	require.Empty(t, scope.Default().NonDefault())
}

func TestEmpty(t *testing.T) {
	require.True(t, scope.Parse("   ").IsEmpty())
	require.False(t, scope.Default().IsEmpty())
}
