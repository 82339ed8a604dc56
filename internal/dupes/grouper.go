package dupes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lbaroni/picsift/internal/library"
)

// MatchKind selects which flavour of duplicate grouping is requested.
type MatchKind string

const (
	// MatchExact groups files whose full-content hash is identical.
	MatchExact MatchKind = "exact"
	// MatchSimilar groups files whose perceptual fingerprints are connected
	// by pairwise distances within a threshold.
	MatchSimilar MatchKind = "similar"
)

// Valid reports whether k is a recognised match kind.
func (k MatchKind) Valid() bool {
	return k == MatchExact || k == MatchSimilar
}

// Group is one duplicate group in a listing. Index is the group's stable
// 0-based ordinal within that listing; it is not a global identifier and is
// only meaningful until the listing is invalidated.
type Group struct {
	Index            int
	Kind             MatchKind
	ContentHash      string // exact groups only
	MaxDistance      int    // similar groups only: max observed pairwise distance
	Members          []library.MediaRecord
	SuggestedKeepID  int64
	ReclaimableBytes int64
}

// PageResult is one bounded page of a listing plus listing-wide aggregates.
// SuperGroups always cover the full listing so folder-level affordances work
// regardless of which page the caller is looking at.
type PageResult struct {
	Groups      []Group
	TotalGroups int
	Page        int
	PerPage     int
	SuperGroups []FolderSuperGroup
}

// Summary is the cheap aggregate for the persistent duplicates indicator.
type Summary struct {
	ExactGroups   int64 `json:"exact_groups"`
	ExactFiles    int64 `json:"exact_files"`
	SimilarGroups int64 `json:"similar_groups"`
	SimilarFiles  int64 `json:"similar_files"`
}

// listing is an immutable clustering result for one (kind, threshold) pair.
// Once built it is only ever read, so pages can be served concurrently.
type listing struct {
	groups []Group
	supers []FolderSuperGroup
	gen    uint64
}

type listingKey struct {
	kind      MatchKind
	threshold int
}

// Grouper clusters catalog records into duplicate groups and serves bounded
// pages out of cached listings. Listings are rebuilt only when the catalog
// generation moves — bumped by Invalidate after every mutation — so repeated
// page requests against unchanged data reuse one clustering pass.
type Grouper struct {
	store *library.Store

	gen   atomic.Uint64
	mu    sync.Mutex
	cache map[listingKey]*listing
}

// NewGrouper creates a Grouper over the given catalog.
func NewGrouper(store *library.Store) *Grouper {
	return &Grouper{
		store: store,
		cache: make(map[listingKey]*listing),
	}
}

// Invalidate marks every cached listing stale. Call after any catalog
// mutation (trash, sync) so the next page request reclusters.
func (g *Grouper) Invalidate() {
	g.gen.Add(1)
}

// Page returns the 1-based page of the listing for kind. threshold only
// affects similar listings. An empty library yields an empty page, not an
// error; an unreachable catalog yields library.ErrUnavailable.
func (g *Grouper) Page(ctx context.Context, kind MatchKind, threshold, page, perPage int) (*PageResult, error) {
	l, err := g.listingFor(ctx, kind, threshold)
	if err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	start := (page - 1) * perPage
	end := start + perPage
	if start > len(l.groups) {
		start = len(l.groups)
	}
	if end > len(l.groups) {
		end = len(l.groups)
	}

	return &PageResult{
		Groups:      l.groups[start:end],
		TotalGroups: len(l.groups),
		Page:        page,
		PerPage:     perPage,
		SuperGroups: l.supers,
	}, nil
}

// listingFor returns the cached listing for (kind, threshold), rebuilding it
// when the catalog generation has moved since it was built.
func (g *Grouper) listingFor(ctx context.Context, kind MatchKind, threshold int) (*listing, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid match kind %q", kind)
	}

	gen := g.gen.Load()
	key := listingKey{kind, threshold}

	g.mu.Lock()
	if l, ok := g.cache[key]; ok && l.gen == gen {
		g.mu.Unlock()
		return l, nil
	}
	g.mu.Unlock()

	// Cluster outside the lock: the pass is CPU/IO-bound and must not block
	// concurrent readers of other cached listings.
	started := time.Now()
	var groups []Group
	var err error
	switch kind {
	case MatchExact:
		groups, err = g.buildExact(ctx)
	case MatchSimilar:
		groups, err = g.buildSimilar(ctx, threshold)
	}
	if err != nil {
		return nil, err
	}

	var reclaimable int64
	for i := range groups {
		reclaimable += groups[i].ReclaimableBytes
	}
	slog.Debug("duplicate listing built",
		"kind", kind,
		"groups", len(groups),
		"reclaimable", humanize.Bytes(uint64(reclaimable)),
		"took", time.Since(started).Round(time.Millisecond))

	l := &listing{
		groups: groups,
		supers: computeSuperGroups(groups),
		gen:    gen,
	}

	g.mu.Lock()
	g.cache[key] = l
	g.mu.Unlock()
	return l, nil
}

// buildExact partitions records by content hash; partitions with ≥2 members
// become groups. Singletons never reach us — the store only returns records
// from partitions of two or more.
func (g *Grouper) buildExact(ctx context.Context) ([]Group, error) {
	recs, err := g.store.DuplicateCandidates(ctx)
	if err != nil {
		return nil, err
	}

	byHash := make(map[string][]library.MediaRecord)
	var order []string
	for _, r := range recs {
		if _, seen := byHash[r.ContentHash]; !seen {
			order = append(order, r.ContentHash)
		}
		byHash[r.ContentHash] = append(byHash[r.ContentHash], r)
	}

	groups := make([]Group, 0, len(order))
	for _, hash := range order {
		members := byHash[hash]
		if len(members) < 2 {
			continue
		}
		groups = append(groups, Group{
			Kind:             MatchExact,
			ContentHash:      hash,
			Members:          members,
			SuggestedKeepID:  SuggestKeepID(members),
			ReclaimableBytes: reclaimableBytes(members),
		})
	}

	finaliseOrdering(groups)
	return groups, nil
}

// buildSimilar clusters fingerprints with union-find over every pair within
// threshold. Files already covered by an exact group are excluded, and a
// group must still hold ≥2 members afterwards — byte-identical copies belong
// to the exact listing, not here.
func (g *Grouper) buildSimilar(ctx context.Context, threshold int) ([]Group, error) {
	fps, err := g.store.Fingerprints(ctx)
	if err != nil {
		return nil, err
	}
	if len(fps) < 2 {
		return nil, nil
	}

	exact, err := g.store.ExactMemberIDs(ctx)
	if err != nil {
		return nil, err
	}

	uf := newUnionFind(len(fps))
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			if HammingDistance(fps[i].Fingerprint, fps[j].Fingerprint) <= threshold {
				uf.union(i, j)
			}
		}
	}

	fpByID := make(map[int64]uint64, len(fps))
	for _, fp := range fps {
		fpByID[fp.FileID] = fp.Fingerprint
	}

	var groups []Group
	for _, comp := range uf.components() {
		ids := make([]int64, 0, len(comp))
		for _, i := range comp {
			if id := fps[i].FileID; !exact[id] {
				ids = append(ids, id)
			}
		}
		if len(ids) < 2 {
			continue
		}

		members, err := g.store.RecordsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(members) < 2 {
			continue
		}

		groups = append(groups, Group{
			Kind:             MatchSimilar,
			MaxDistance:      maxPairwiseDistance(members, fpByID),
			Members:          members,
			SuggestedKeepID:  SuggestKeepID(members),
			ReclaimableBytes: reclaimableBytes(members),
		})
	}

	finaliseOrdering(groups)
	return groups, nil
}

// Summarize counts exact and similar groups without materialising records.
// It is independent of any open session and always reflects the catalog as
// of the call.
func (g *Grouper) Summarize(ctx context.Context, threshold int) (Summary, error) {
	var sum Summary

	exactGroups, exactFiles, err := g.store.ExactGroupCounts(ctx)
	if err != nil {
		return sum, err
	}
	sum.ExactGroups = exactGroups
	sum.ExactFiles = exactFiles

	fps, err := g.store.Fingerprints(ctx)
	if err != nil {
		return sum, err
	}
	if len(fps) < 2 {
		return sum, nil
	}
	exact, err := g.store.ExactMemberIDs(ctx)
	if err != nil {
		return sum, err
	}

	uf := newUnionFind(len(fps))
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			if HammingDistance(fps[i].Fingerprint, fps[j].Fingerprint) <= threshold {
				uf.union(i, j)
			}
		}
	}
	for _, comp := range uf.components() {
		var nonExact int64
		for _, i := range comp {
			if !exact[fps[i].FileID] {
				nonExact++
			}
		}
		if nonExact >= 2 {
			sum.SimilarGroups++
			sum.SimilarFiles += nonExact
		}
	}
	return sum, nil
}

// reclaimableBytes is the space freed by keeping only the largest member.
func reclaimableBytes(members []library.MediaRecord) int64 {
	var total, largest int64
	for _, m := range members {
		total += m.Size
		if m.Size > largest {
			largest = m.Size
		}
	}
	return total - largest
}

func maxPairwiseDistance(members []library.MediaRecord, fpByID map[int64]uint64) int {
	max := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, aok := fpByID[members[i].ID]
			b, bok := fpByID[members[j].ID]
			if !aok || !bok {
				continue
			}
			if d := HammingDistance(a, b); d > max {
				max = d
			}
		}
	}
	return max
}

// finaliseOrdering sorts members within each group by id, sorts groups by
// reclaimable bytes descending (ties broken by lowest member id), and
// assigns listing indices. The order is deterministic across repeated
// builds of unchanged data — the UI keys session decisions by index.
func finaliseOrdering(groups []Group) {
	for i := range groups {
		sort.Slice(groups[i].Members, func(a, b int) bool {
			return groups[i].Members[a].ID < groups[i].Members[b].ID
		})
	}
	sort.Slice(groups, func(a, b int) bool {
		if groups[a].ReclaimableBytes != groups[b].ReclaimableBytes {
			return groups[a].ReclaimableBytes > groups[b].ReclaimableBytes
		}
		return groups[a].Members[0].ID < groups[b].Members[0].ID
	})
	for i := range groups {
		groups[i].Index = i
	}
}
