package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/solaceid/solace/internal/domain"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/scope"
)

// Resolver turns granted scopes into token claims. Default scope tokens
// are answered from the user record, everything else goes through the
// policy tables.
type Resolver struct {
	policies repository.PolicyRepository
}

// NewResolver wires the resolver.
func NewResolver(policies repository.PolicyRepository) *Resolver {
	return &Resolver{policies: policies}
}

// Resolve computes the claims for one token issuance. Group overrides win
// over a policy default when the user belongs to the overriding group; with
// several overrides the group with the highest access level decides.
func (r *Resolver) Resolve(ctx context.Context, user domain.User, groups []domain.Group, sc scope.Scope) (map[string]any, error) {
	claims := map[string]any{}

	if sc.Contains("profile") {
		claims["name"] = user.Name
		claims["preferred_username"] = user.Name
	}
	if sc.Contains("email") {
		claims["email"] = user.Email
	}
	if sc.Contains("image") && user.Image != "" {
		claims["image"] = user.Image
	}

	groupNames := make([]string, 0, len(groups))
	memberOf := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		groupNames = append(groupNames, g.Name)
		memberOf[g.UUID] = struct{}{}
	}
	claims["groups"] = groupNames

	for _, token := range sc.NonDefault() {
		mapping, err := r.policies.GetScopeMapping(ctx, token)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("resolve scope %q: %w", token, err)
		}
		for _, pol := range mapping.Policies {
			claims[pol.Claim] = parseContent(selectContent(pol, memberOf))
		}
	}

	return claims, nil
}

func selectContent(pol domainoauth.Policy, memberOf map[string]struct{}) string {
	content := pol.DefaultContent
	best := int32(-1)
	for _, override := range pol.GroupContents {
		if _, ok := memberOf[override.GroupUUID]; !ok {
			continue
		}
		if override.AccessLevel > best {
			best = override.AccessLevel
			content = override.Content
		}
	}
	return content
}

// parseContent decodes JSON content so policies can emit structured
// claims; anything that is not valid JSON stays a plain string.
func parseContent(content string) any {
	var value any
	if err := json.Unmarshal([]byte(content), &value); err != nil {
		return content
	}
	return value
}
