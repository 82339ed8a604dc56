package dupes

import (
	"testing"

	"github.com/lbaroni/picsift/internal/library"
)

func TestSuggestKeepID(t *testing.T) {
	tests := []struct {
		name    string
		members []library.MediaRecord
		want    int64
	}{
		{
			name: "highest pixel count wins",
			members: []library.MediaRecord{
				{ID: 1, Width: 100, Height: 100, MTime: 1},
				{ID: 2, Width: 200, Height: 200, MTime: 2},
			},
			want: 2,
		},
		{
			name: "unknown dimensions rank below known",
			members: []library.MediaRecord{
				{ID: 1, MTime: 1},
				{ID: 2, Width: 10, Height: 10, MTime: 2},
			},
			want: 2,
		},
		{
			name: "rating breaks pixel tie",
			members: []library.MediaRecord{
				{ID: 1, Width: 100, Height: 100, Rating: 2, MTime: 1},
				{ID: 2, Width: 100, Height: 100, Rating: 5, MTime: 2},
			},
			want: 2,
		},
		{
			name: "oldest mtime breaks rating tie",
			members: []library.MediaRecord{
				{ID: 1, MTime: 500},
				{ID: 2, MTime: 100},
			},
			want: 2,
		},
		{
			name: "lowest id is the final tiebreak",
			members: []library.MediaRecord{
				{ID: 7, MTime: 100},
				{ID: 3, MTime: 100},
			},
			want: 3,
		},
		{
			name:    "no members",
			members: nil,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuggestKeepID(tt.members); got != tt.want {
				t.Errorf("SuggestKeepID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSuggestKeepIDDeterministic(t *testing.T) {
	members := []library.MediaRecord{
		{ID: 5, Width: 10, Height: 10, MTime: 3},
		{ID: 1, Width: 10, Height: 10, MTime: 3},
		{ID: 9, Width: 10, Height: 10, MTime: 3},
	}
	want := SuggestKeepID(members)
	// Input order must not matter.
	reordered := []library.MediaRecord{members[2], members[0], members[1]}
	if got := SuggestKeepID(reordered); got != want {
		t.Errorf("order-dependent suggestion: %d vs %d", got, want)
	}
	if want != 1 {
		t.Errorf("suggested %d, want 1", want)
	}
}
