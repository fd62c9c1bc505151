/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"math/rand/v2"
	"slices"
)

// Assignment is the outcome of role assignment for one game.
type Assignment struct {
	// Roles maps every player to their displayed role.
	Roles     map[string]Role
	Prince    string
	Plague    string
	Nobles    []string
	Commoners []string
}

// TrueRole returns the role id actually plays.
func (a Assignment) TrueRole(id string) Role {
	if id != "" && id == a.Plague {
		return RolePlague
	}
	return a.Roles[id]
}

// AssignRoles shuffles ids and deals one prince, NobleCount(n) nobles and
// commoners. The plague carrier is drawn from the nobles or the commoners,
// a coin flip when both exist, and keeps its displayed role.
func AssignRoles(ids []string, rng *rand.Rand) Assignment {
	pool := slices.Clone(ids)
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	a := Assignment{Roles: make(map[string]Role, len(pool))}
	if len(pool) == 0 {
		return a
	}

	a.Prince, pool = pool[0], pool[1:]
	a.Roles[a.Prince] = RolePrince

	k := min(NobleCount(len(ids)), len(pool))
	a.Nobles = slices.Clone(pool[:k])
	a.Commoners = slices.Clone(pool[k:])

	for _, id := range a.Nobles {
		a.Roles[id] = RoleNoble
	}
	for _, id := range a.Commoners {
		a.Roles[id] = RoleCommoner
	}

	switch {
	case len(a.Nobles) > 0 && len(a.Commoners) > 0:
		if rng.IntN(2) == 0 {
			a.Plague = a.Nobles[rng.IntN(len(a.Nobles))]
		} else {
			a.Plague = a.Commoners[rng.IntN(len(a.Commoners))]
		}
	case len(a.Nobles) > 0:
		a.Plague = a.Nobles[rng.IntN(len(a.Nobles))]
	case len(a.Commoners) > 0:
		a.Plague = a.Commoners[rng.IntN(len(a.Commoners))]
	}

	return a
}

// FormGroups splits commoners across nobles as evenly as possible, the
// remainder going to the first groups, and colors each group from palette.
func FormGroups(nobles, commoners []string, palette []string) []NobleGroup {
	if len(nobles) == 0 {
		return nil
	}

	base, extra := len(commoners)/len(nobles), len(commoners)%len(nobles)

	groups := make([]NobleGroup, 0, len(nobles))
	next := 0
	for i, noble := range nobles {
		size := base
		if i < extra {
			size++
		}
		groups = append(groups, NobleGroup{
			Noble:     noble,
			Commoners: slices.Clone(commoners[next : next+size]),
			Color:     palette[i%len(palette)],
		})
		next += size
	}
	return groups
}
