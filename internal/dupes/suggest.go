package dupes

import "github.com/lbaroni/picsift/internal/library"

// SuggestKeepID picks the member of a duplicate group the user should keep.
// Ranking, applied in order until a unique winner remains:
//
//  1. highest pixel count (unknown dimensions rank lowest)
//  2. highest rating
//  3. oldest modification time
//  4. lowest file id
//
// It is a pure function of the group contents: the same members always yield
// the same suggestion.
func SuggestKeepID(members []library.MediaRecord) int64 {
	if len(members) == 0 {
		return 0
	}
	best := members[0]
	for _, m := range members[1:] {
		if betterKeep(m, best) {
			best = m
		}
	}
	return best.ID
}

// betterKeep reports whether a should be kept in preference to b.
func betterKeep(a, b library.MediaRecord) bool {
	if pa, pb := a.PixelCount(), b.PixelCount(); pa != pb {
		return pa > pb
	}
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if a.MTime != b.MTime {
		return a.MTime < b.MTime
	}
	return a.ID < b.ID
}
