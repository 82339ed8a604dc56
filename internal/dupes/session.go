package dupes

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Decision is the per-file keep/trash choice inside a session.
type Decision int8

const (
	DecisionUndecided Decision = iota
	DecisionKeep
	DecisionTrash
)

func (d Decision) String() string {
	switch d {
	case DecisionKeep:
		return "keep"
	case DecisionTrash:
		return "trash"
	default:
		return "undecided"
	}
}

// SessionState describes where a session is in its lifecycle.
type SessionState int8

const (
	// StateIdle: no page has been loaded yet.
	StateIdle SessionState = iota
	// StateViewing: a page is loaded and a group is presented at the cursor.
	StateViewing
	// StateResolved: every group on the page has been trashed or skipped.
	StateResolved
)

// FolderRule is the active keep-one-folder rule set by ApplyFolderRule.
type FolderRule struct {
	KeepFolder  string
	TrashFolder string
}

// Session holds the interactive per-group decision state for one resolution
// workflow. A session is single-writer: exactly one caller mutates it at a
// time, so it carries no internal locking. The page it owns is an immutable
// snapshot replaced wholesale on reload.
//
// Decision state is keyed by (group index, file id) rather than by embedded
// references, so the page can be replaced without dangling pointers; any
// operation addressing an index no longer on the page is a silent no-op.
type Session struct {
	ID uuid.UUID

	grouper   *Grouper
	threshold int
	perPage   int

	kind          MatchKind
	groups        []Group
	supers        []FolderSuperGroup
	total         int
	decisions     map[int]map[int64]Decision
	cursor        int
	resolvedCount int
	rule          *FolderRule

	// generation discards fetches that complete after the session moved on.
	generation uint64
	loaded     bool
}

// NewSession creates an Idle session backed by the given grouper.
func NewSession(grouper *Grouper, threshold, perPage int) *Session {
	return &Session{
		ID:        uuid.New(),
		grouper:   grouper,
		threshold: threshold,
		perPage:   perPage,
		decisions: make(map[int]map[int64]Decision),
	}
}

// Load starts (or restarts) the session for the given match kind: decisions,
// cursor, resolved count, and any folder rule are reset, a fresh page is
// fetched, and every group is seeded from the keep suggestion. On fetch
// failure the session keeps its prior state. A load that finishes after the
// session has been loaded again is discarded.
func (s *Session) Load(ctx context.Context, kind MatchKind) error {
	s.generation++
	gen := s.generation

	pr, err := s.grouper.Page(ctx, kind, s.threshold, 1, s.perPage)
	if err != nil {
		return err
	}
	if gen != s.generation {
		return nil // superseded by a newer load; drop the result
	}

	s.kind = kind
	s.installPage(pr)
	s.resolvedCount = 0
	slog.Info("resolution session loaded",
		"session", s.ID, "kind", kind, "groups", len(s.groups), "total", s.total)
	return nil
}

// reload refreshes the page without resetting the resolved counter. Used
// after a folder-rule confirmation structurally changed the duplicate set.
func (s *Session) reload(ctx context.Context) error {
	s.generation++
	gen := s.generation

	pr, err := s.grouper.Page(ctx, s.kind, s.threshold, 1, s.perPage)
	if err != nil {
		return err
	}
	if gen != s.generation {
		return nil
	}
	s.installPage(pr)
	return nil
}

func (s *Session) installPage(pr *PageResult) {
	s.groups = pr.Groups
	s.supers = pr.SuperGroups
	s.total = pr.TotalGroups
	s.cursor = 0
	s.rule = nil
	s.loaded = true
	s.decisions = make(map[int]map[int64]Decision, len(pr.Groups))
	for i := range pr.Groups {
		s.seedGroup(&pr.Groups[i])
	}
}

// seedGroup applies the keep suggestion: suggested member → Keep, all
// others → Trash.
func (s *Session) seedGroup(g *Group) {
	d := make(map[int64]Decision, len(g.Members))
	for _, m := range g.Members {
		if m.ID == g.SuggestedKeepID {
			d[m.ID] = DecisionKeep
		} else {
			d[m.ID] = DecisionTrash
		}
	}
	s.decisions[g.Index] = d
}

// State derives the lifecycle state from the loaded page.
func (s *Session) State() SessionState {
	switch {
	case !s.loaded:
		return StateIdle
	case len(s.groups) == 0:
		return StateResolved
	default:
		return StateViewing
	}
}

// Kind returns the match kind of the current page.
func (s *Session) Kind() MatchKind { return s.kind }

// Threshold returns the similarity threshold the session was created with.
func (s *Session) Threshold() int { return s.threshold }

// Groups returns the current page snapshot.
func (s *Session) Groups() []Group { return s.groups }

// SuperGroups returns the folder super-groups of the current listing.
func (s *Session) SuperGroups() []FolderSuperGroup { return s.supers }

// Cursor returns the index into Groups of the presented group.
func (s *Session) Cursor() int { return s.cursor }

// ResolvedCount returns how many groups were resolved since Load.
func (s *Session) ResolvedCount() int { return s.resolvedCount }

// ActiveRule returns a copy of the active folder rule, or nil.
func (s *Session) ActiveRule() *FolderRule {
	if s.rule == nil {
		return nil
	}
	r := *s.rule
	return &r
}

// Current returns the group under the cursor.
func (s *Session) Current() (Group, bool) {
	if s.cursor < 0 || s.cursor >= len(s.groups) {
		return Group{}, false
	}
	return s.groups[s.cursor], true
}

// group finds a page group by its listing index.
func (s *Session) group(groupIndex int) (Group, bool) {
	for _, g := range s.groups {
		if g.Index == groupIndex {
			return g, true
		}
	}
	return Group{}, false
}

// Decision returns the stored decision for (groupIndex, fileID).
func (s *Session) Decision(groupIndex int, fileID int64) Decision {
	if d, ok := s.decisions[groupIndex]; ok {
		return d[fileID]
	}
	return DecisionUndecided
}

// ToggleDecision flips the decision for one file. Setting a file to the
// decision it already has flips it to the opposite (Keep↔Trash); anything
// else sets the target. Unknown group indices or file ids — stale UI state
// racing a reload — are silent no-ops.
func (s *Session) ToggleDecision(groupIndex int, fileID int64, target Decision) {
	if target != DecisionKeep && target != DecisionTrash {
		return
	}
	d, ok := s.decisions[groupIndex]
	if !ok {
		return
	}
	cur, ok := d[fileID]
	if !ok {
		return
	}
	if cur == target {
		if target == DecisionKeep {
			d[fileID] = DecisionTrash
		} else {
			d[fileID] = DecisionKeep
		}
		return
	}
	d[fileID] = target
}

// AcceptSuggestion re-applies the keep-suggestion seeding for one group,
// discarding any manual edits.
func (s *Session) AcceptSuggestion(groupIndex int) {
	g, ok := s.group(groupIndex)
	if !ok {
		return
	}
	s.seedGroup(&g)
}

// CanConfirm reports whether the group is safe to confirm: every member has
// an explicit Keep or Trash decision and at least one member survives.
func (s *Session) CanConfirm(groupIndex int) bool {
	g, ok := s.group(groupIndex)
	if !ok {
		return false
	}
	d := s.decisions[groupIndex]
	keeps := 0
	for _, m := range g.Members {
		switch d[m.ID] {
		case DecisionKeep:
			keeps++
		case DecisionTrash:
		default:
			return false
		}
	}
	return keeps >= 1
}

// TrashIDs returns the members of the group currently marked Trash.
func (s *Session) TrashIDs(groupIndex int) []int64 {
	g, ok := s.group(groupIndex)
	if !ok {
		return nil
	}
	d := s.decisions[groupIndex]
	var ids []int64
	for _, m := range g.Members {
		if d[m.ID] == DecisionTrash {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Advance moves the cursor forward, clamped to the last group.
func (s *Session) Advance() {
	if s.cursor < len(s.groups)-1 {
		s.cursor++
	}
}

// Retreat moves the cursor backward, clamped to the first group.
func (s *Session) Retreat() {
	if s.cursor > 0 {
		s.cursor--
	}
}

// ApplyFolderRule records the rule and overwrites decisions for every group
// the super-group references: members under the keep folder → Keep, members
// under the counterpart folder → Trash. This is a pure local preview — the
// authoritative trash action is Executor.ConfirmFolderRule.
func (s *Session) ApplyFolderRule(sg FolderSuperGroup, keepFolderIndex int) {
	if keepFolderIndex < 0 || keepFolderIndex > 1 {
		return
	}
	keep := sg.Folders[keepFolderIndex]
	trash := sg.Folders[1-keepFolderIndex]
	s.rule = &FolderRule{KeepFolder: keep, TrashFolder: trash}

	for _, idx := range sg.GroupIndices {
		g, ok := s.group(idx)
		if !ok {
			continue
		}
		d := s.decisions[idx]
		for _, m := range g.Members {
			if m.DirectoryPath == keep {
				d[m.ID] = DecisionKeep
			} else {
				d[m.ID] = DecisionTrash
			}
		}
	}
}

// RemoveGroup drops a resolved group from the page, clamps the cursor, and
// bumps the resolved counter. Decisions for other groups are untouched.
func (s *Session) RemoveGroup(groupIndex int) {
	pos := -1
	for i, g := range s.groups {
		if g.Index == groupIndex {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}

	s.groups = append(s.groups[:pos:pos], s.groups[pos+1:]...)
	delete(s.decisions, groupIndex)
	if s.total > 0 {
		s.total--
	}
	if s.cursor >= len(s.groups) && s.cursor > 0 {
		s.cursor = len(s.groups) - 1
	}
	s.resolvedCount++
}
