package dict

import "github.com/antzucaro/matchr"

// suggestThreshold is the minimum Jaro-Winkler similarity for a surface to
// count as a plausible near-miss.
const suggestThreshold = 0.85

// Suggest returns the stored surface most similar to the given one, for
// "did you mean" replies when a removal misses. ok is false when nothing is
// close enough.
func Suggest(entries []Entry, surface string) (string, bool) {
	folded := asciiFold(surface)

	best := ""
	bestScore := suggestThreshold
	for _, e := range entries {
		score := matchr.JaroWinkler(folded, asciiFold(e.Surface), false)
		if score >= bestScore {
			best = e.Surface
			bestScore = score
		}
	}
	return best, best != ""
}
