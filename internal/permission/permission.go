package permission

import "fmt"

// Permission names a single administrative capability.
type Permission string

const (
	UserList   Permission = "user_list"
	UserCreate Permission = "user_create"
	UserEdit   Permission = "user_edit"
	UserDelete Permission = "user_delete"

	GroupList   Permission = "group_list"
	GroupCreate Permission = "group_create"
	GroupEdit   Permission = "group_edit"
	GroupDelete Permission = "group_delete"

	OAuthClientList   Permission = "oauth_client_list"
	OAuthClientCreate Permission = "oauth_client_create"
	OAuthClientEdit   Permission = "oauth_client_edit"
	OAuthClientDelete Permission = "oauth_client_delete"
)

// All lists every known permission, used for validation and admin bootstrap.
var All = []Permission{
	UserList, UserCreate, UserEdit, UserDelete,
	GroupList, GroupCreate, GroupEdit, GroupDelete,
	OAuthClientList, OAuthClientCreate, OAuthClientEdit, OAuthClientDelete,
}

// Parse validates a raw string against the known permission set.
func Parse(raw string) (Permission, error) {
	for _, p := range All {
		if string(p) == raw {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown permission %q", raw)
}

// ParseAll maps a slice of raw strings, failing on the first unknown value.
func ParseAll(raw []string) ([]Permission, error) {
	out := make([]Permission, 0, len(raw))
	for _, r := range raw {
		p, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Strings converts permissions back to their wire representation.
func Strings(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}

// Union merges permission slices without duplicates. Order follows first occurrence.
func Union(sets ...[]Permission) []Permission {
	seen := make(map[Permission]struct{})
	var out []Permission
	for _, set := range sets {
		for _, p := range set {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Contains reports whether the set holds the given permission.
func Contains(set []Permission, p Permission) bool {
	for _, candidate := range set {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsSubset reports whether every element of sub is present in super.
func IsSubset(sub, super []Permission) bool {
	for _, p := range sub {
		if !Contains(super, p) {
			return false
		}
	}
	return true
}

// SymmetricDifference returns permissions present in exactly one of the sets.
func SymmetricDifference(a, b []Permission) []Permission {
	var out []Permission
	for _, p := range a {
		if !Contains(b, p) {
			out = append(out, p)
		}
	}
	for _, p := range b {
		if !Contains(a, p) {
			out = append(out, p)
		}
	}
	return out
}

// CanEdit reports whether an editor holding editorPerms may change a
// permission set from old to updated. Every permission being added or
// removed must be held by the editor.
func CanEdit(editorPerms, old, updated []Permission) bool {
	return IsSubset(SymmetricDifference(old, updated), editorPerms)
}

// HighestAccessLevel returns the maximum access level across the given
// group levels, with a floor of zero for users without groups.
func HighestAccessLevel(levels []int32) int32 {
	var max int32
	for _, l := range levels {
		if l > max {
			max = l
		}
	}
	return max
}

// CanActOn reports whether an actor may modify a target based on access
// levels. The target must sit strictly below the actor.
func CanActOn(actorLevel, targetLevel int32) bool {
	return targetLevel < actorLevel
}
