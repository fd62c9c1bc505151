/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"math/rand/v2"
	"slices"
	"time"
)

// Catalog is the fixed set of tasks handed out each game.
var Catalog = []Task{
	{ID: "sweep-courtyard", Room: "courtyard", Duration: 4 * time.Second},
	{ID: "water-horses", Room: "stables", Duration: 5 * time.Second},
	{ID: "polish-armor", Room: "armory", Duration: 6 * time.Second},
	{ID: "stock-pantry", Room: "kitchen", Duration: 4 * time.Second},
	{ID: "light-candles", Room: "chapel", Duration: 3 * time.Second},
	{ID: "copy-ledger", Room: "library", Duration: 7 * time.Second},
	{ID: "draw-water", Room: "well", Duration: 5 * time.Second},
	{ID: "mend-banner", Room: "great-hall", Duration: 6 * time.Second},
	{ID: "grind-herbs", Room: "infirmary", Duration: 5 * time.Second},
	{ID: "feed-hounds", Room: "kennels", Duration: 3 * time.Second},
	{ID: "split-firewood", Room: "woodshed", Duration: 4 * time.Second},
	{ID: "tune-lute", Room: "gallery", Duration: 6 * time.Second},
}

// TaskCount is how many tasks each worker gets in a game of n players.
func (r Rules) TaskCount(n int) int {
	count := r.TasksPerPlayer
	if n < r.SmallLobbySize {
		count = r.SmallLobbyTasks
	}
	return min(count, len(Catalog))
}

// AssignTasks deals tasks to every player in roster order. The prince and
// the plague carrier always get an empty list.
func AssignTasks(roster []string, a Assignment, count int, rng *rand.Rand) map[string][]Task {
	out := make(map[string][]Task, len(roster))
	for _, id := range roster {
		if id == a.Prince || id == a.Plague {
			out[id] = []Task{}
			continue
		}

		deck := slices.Clone(Catalog)
		rng.Shuffle(len(deck), func(i, j int) {
			deck[i], deck[j] = deck[j], deck[i]
		})
		out[id] = deck[:count:count]
	}
	return out
}

// TaskByID looks a task up in the catalog.
func TaskByID(id string) (Task, bool) {
	for _, t := range Catalog {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
