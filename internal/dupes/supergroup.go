package dupes

import "sort"

// FolderSuperGroup is a pair of folders that split one or more duplicate
// groups between them: every member of every referenced group lives in one
// of the two folders, and both folders are represented in each group.
// Folders is sorted; GroupIndices refer to the full listing, not a page.
type FolderSuperGroup struct {
	Folders      [2]string `json:"folders"`
	GroupIndices []int     `json:"group_indices"`
}

// computeSuperGroups associates groups with the folder pairs they span.
// Groups whose members cover one folder, or more than two, belong to no
// super-group. All pairs with at least one group are reported; deciding when
// a batch affordance is worth offering is up to the caller.
func computeSuperGroups(groups []Group) []FolderSuperGroup {
	type pair struct{ a, b string }
	byPair := make(map[pair][]int)
	var order []pair

	for _, g := range groups {
		dirs := make(map[string]bool, 2)
		for _, m := range g.Members {
			dirs[m.DirectoryPath] = true
			if len(dirs) > 2 {
				break
			}
		}
		if len(dirs) != 2 {
			continue
		}

		folders := make([]string, 0, 2)
		for d := range dirs {
			folders = append(folders, d)
		}
		sort.Strings(folders)

		p := pair{folders[0], folders[1]}
		if _, seen := byPair[p]; !seen {
			order = append(order, p)
		}
		byPair[p] = append(byPair[p], g.Index)
	}

	supers := make([]FolderSuperGroup, 0, len(order))
	for _, p := range order {
		supers = append(supers, FolderSuperGroup{
			Folders:      [2]string{p.a, p.b},
			GroupIndices: byPair[p],
		})
	}
	return supers
}

// matchesFolders reports whether the super-group covers the given pair,
// in either order.
func (sg FolderSuperGroup) matchesFolders(a, b string) bool {
	return (sg.Folders[0] == a && sg.Folders[1] == b) ||
		(sg.Folders[0] == b && sg.Folders[1] == a)
}
