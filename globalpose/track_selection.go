package globalpose

import (
	"cmp"
	"slices"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"go.viam.com/sfm/sfm"
)

// FindTracksForProblem greedily selects tracks so that every positioned view is observed by at
// least minNumPointsPerView selected tracks. Views are visited in ascending id; each view takes its
// not yet selected, triangulated tracks ordered by the number of positioned views observing them
// (capped at maxTrackLength) descending, then by ascending track id, until its quota is met.
// Views with fewer features than the quota are skipped. It returns the selected tracks and the
// number of point to camera constraints they create.
func FindTracksForProblem(
	reconstruction sfm.ReconstructionReader,
	positions map[sfm.ViewID]r3.Vector,
	minNumPointsPerView int,
	maxTrackLength int,
) (map[sfm.TrackID]struct{}, int) {
	selected := map[sfm.TrackID]struct{}{}
	if minNumPointsPerView <= 0 {
		return selected, 0
	}

	tracksPerView := make(map[sfm.ViewID]int, len(positions))
	viewIDs := make([]sfm.ViewID, 0, len(positions))
	for id := range positions {
		tracksPerView[id] = 0
		viewIDs = append(viewIDs, id)
	}
	slices.Sort(viewIDs)

	numConstraints := 0
	for _, viewID := range viewIDs {
		view := reconstruction.View(viewID)
		if view == nil || view.NumFeatures() < minNumPointsPerView {
			continue
		}
		for _, trackID := range tracksSortedByNumViews(reconstruction, view, positions, selected, maxTrackLength) {
			if tracksPerView[viewID] >= minNumPointsPerView {
				break
			}
			selected[trackID] = struct{}{}
			for observer := range reconstruction.Track(trackID).Views {
				if _, ok := positions[observer]; !ok {
					continue
				}
				tracksPerView[observer]++
				numConstraints++
			}
		}
	}
	return selected, numConstraints
}

type rankedTrack struct {
	id     sfm.TrackID
	length int
}

func tracksSortedByNumViews(
	reconstruction sfm.ReconstructionReader,
	view *sfm.View,
	positions map[sfm.ViewID]r3.Vector,
	selected map[sfm.TrackID]struct{},
	maxTrackLength int,
) []sfm.TrackID {
	var ranked []rankedTrack
	for trackID := range view.Features {
		if _, ok := selected[trackID]; ok {
			continue
		}
		track := reconstruction.Track(trackID)
		if track == nil || !track.Estimated {
			continue
		}
		length := 0
		for observer := range track.Views {
			if _, ok := positions[observer]; ok {
				length++
			}
		}
		// a single positioned observer cannot tie cameras together
		if length < 2 {
			continue
		}
		if maxTrackLength > 0 && length > maxTrackLength {
			length = maxTrackLength
		}
		ranked = append(ranked, rankedTrack{id: trackID, length: length})
	}
	slices.SortFunc(ranked, func(a, b rankedTrack) int {
		if c := cmp.Compare(b.length, a.length); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return lo.Map(ranked, func(r rankedTrack, _ int) sfm.TrackID { return r.id })
}

// sortedPairs returns the keys of viewPairs in ascending order so problems are built
// deterministically.
func sortedPairs(viewPairs map[sfm.ViewIDPair]sfm.TwoViewInfo) []sfm.ViewIDPair {
	pairs := lo.Keys(viewPairs)
	slices.SortFunc(pairs, func(a, b sfm.ViewIDPair) int {
		if c := cmp.Compare(a.First, b.First); c != 0 {
			return c
		}
		return cmp.Compare(a.Second, b.Second)
	})
	return pairs
}
