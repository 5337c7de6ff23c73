package mutes

import "github.com/disgoorg/snowflake/v2"

// HierarchyGuard decides whether an actor may act on a target. It is the
// first gate of every mutating operation; a false answer short-circuits the
// operation before any external call or registry mutation.
type HierarchyGuard struct {
	appOwners map[snowflake.ID]struct{}
}

// NewHierarchyGuard builds a guard. appOwners are bot-level owners that
// bypass per-guild hierarchy entirely.
func NewHierarchyGuard(appOwners []snowflake.ID) *HierarchyGuard {
	owners := make(map[snowflake.ID]struct{}, len(appOwners))
	for _, id := range appOwners {
		owners[id] = struct{}{}
	}
	return &HierarchyGuard{appOwners: owners}
}

// Allowed reports whether actor may act on target within guild: the guild
// owner and bot-level owners always may, everyone else needs a strictly
// higher top role than the target.
func (g *HierarchyGuard) Allowed(guild Guild, actor, target Member) bool {
	if actor.UserID == guild.OwnerID {
		return true
	}
	if _, ok := g.appOwners[actor.UserID]; ok {
		return true
	}
	return actor.TopRole > target.TopRole
}
