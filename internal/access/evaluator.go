package access

// The evaluator is a pure function over a grant snapshot: no I/O, no clock,
// safe under unbounded concurrent callers.

// IsManager reports whether the snapshot holds the MANAGER tag with any
// action. Managers bypass every resource-specific check.
func IsManager(grants []Grant) bool {
	for _, g := range grants {
		if g.Resource == ResourceManager {
			return true
		}
	}
	return false
}

// Allows reports whether the snapshot satisfies (resource, action). Passing
// ActionAny matches any action on the resource; a stored ActionAll grant
// matches any requested action. The MANAGER bypass short-circuits first.
func Allows(grants []Grant, resource Resource, action Action) bool {
	if IsManager(grants) {
		return true
	}
	for _, g := range grants {
		if g.Resource != resource {
			continue
		}
		if action == ActionAny || g.Action == action || g.Action == ActionAll {
			return true
		}
	}
	return false
}

// GrantSet deduplicates permissions into the flattened snapshot embedded in
// session claims. Order is stable for equal inputs.
func GrantSet(perms []Permission) []Grant {
	seen := make(map[Grant]struct{}, len(perms))
	out := make([]Grant, 0, len(perms))
	for _, p := range perms {
		g := Grant{Resource: p.Resource, Action: p.Action}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
