package cache

import (
	"github.com/i474232898/birdnet-display/internal/common"
)

// Plan returns the species that need downloads, in input order: those with
// no entry or fewer than target images. Duplicates and identifiers that
// reduce to an empty slug are dropped. The manifest is not modified.
func Plan(species []string, m Manifest, target int) []string {
	seen := make(map[string]bool, len(species))
	plan := make([]string, 0)
	for _, s := range species {
		slug := common.Slug(s)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true

		if e, ok := m[slug]; ok && e.Complete(target) {
			continue
		}
		plan = append(plan, s)
	}
	return plan
}

// missingIndices picks the lowest unused file indices needed to bring e up to target.
func missingIndices(e Entry, target int) []int {
	need := target - e.Count()
	if need <= 0 {
		return nil
	}
	used := e.usedIndices()
	out := make([]int, 0, need)
	for i := 0; len(out) < need; i++ {
		if !used[i] {
			out = append(out, i)
		}
	}
	return out
}
