package globalpose

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/sfm"
)

type testTrack struct {
	views     []sfm.ViewID
	estimated bool
}

func buildTrackReconstruction(t *testing.T, numViews int, tracks []testTrack) (*sfm.Reconstruction, map[sfm.ViewID]r3.Vector) {
	t.Helper()
	rec := sfm.NewReconstruction()
	positions := map[sfm.ViewID]r3.Vector{}
	for i := 0; i < numViews; i++ {
		id := rec.AddView("", nil)
		positions[id] = r3.Vector{X: float64(i)}
	}
	for _, tr := range tracks {
		id := rec.AddTrack(r3.Vector{Z: 5}, tr.estimated)
		for _, v := range tr.views {
			test.That(t, rec.AddObservation(v, id, r2.Point{}), test.ShouldBeNil)
		}
	}
	return rec, positions
}

func trackSet(ids ...sfm.TrackID) map[sfm.TrackID]struct{} {
	out := map[sfm.TrackID]struct{}{}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestFindTracksForProblem(t *testing.T) {
	rec, positions := buildTrackReconstruction(t, 3, []testTrack{
		{views: []sfm.ViewID{0, 1, 2}, estimated: true},
		{views: []sfm.ViewID{0, 1}, estimated: true},
		{views: []sfm.ViewID{0, 2}, estimated: true},
		{views: []sfm.ViewID{0}, estimated: true},
		{views: []sfm.ViewID{0, 1, 2}, estimated: false},
		{views: []sfm.ViewID{1, 2}, estimated: true},
	})

	t.Run("disabled", func(t *testing.T) {
		tracks, n := FindTracksForProblem(rec, positions, 0, 0)
		test.That(t, tracks, test.ShouldBeEmpty)
		test.That(t, n, test.ShouldEqual, 0)
	})

	t.Run("one per view", func(t *testing.T) {
		tracks, n := FindTracksForProblem(rec, positions, 1, 0)
		test.That(t, tracks, test.ShouldResemble, trackSet(0))
		test.That(t, n, test.ShouldEqual, 3)
	})

	t.Run("two per view", func(t *testing.T) {
		tracks, n := FindTracksForProblem(rec, positions, 2, 0)
		test.That(t, tracks, test.ShouldResemble, trackSet(0, 1, 2))
		test.That(t, n, test.ShouldEqual, 7)
	})

	t.Run("unpositioned observers", func(t *testing.T) {
		partial := map[sfm.ViewID]r3.Vector{0: positions[0], 1: positions[1]}
		tracks, n := FindTracksForProblem(rec, partial, 1, 0)
		test.That(t, tracks, test.ShouldResemble, trackSet(0))
		test.That(t, n, test.ShouldEqual, 2)
	})
}

func TestFindTracksForProblemTrackLengthCap(t *testing.T) {
	rec, positions := buildTrackReconstruction(t, 3, []testTrack{
		{views: []sfm.ViewID{0, 1}, estimated: true},
		{views: []sfm.ViewID{0, 1, 2}, estimated: true},
	})

	tracks, n := FindTracksForProblem(rec, positions, 1, 0)
	test.That(t, tracks, test.ShouldResemble, trackSet(1))
	test.That(t, n, test.ShouldEqual, 3)

	// capped lengths tie, so the lower id wins for view 0 and view 2 still needs the long track
	tracks, n = FindTracksForProblem(rec, positions, 1, 2)
	test.That(t, tracks, test.ShouldResemble, trackSet(0, 1))
	test.That(t, n, test.ShouldEqual, 5)
}

func TestFindTracksForProblemSkipsSparseViews(t *testing.T) {
	rec, positions := buildTrackReconstruction(t, 3, []testTrack{
		{views: []sfm.ViewID{0, 1}, estimated: true},
		{views: []sfm.ViewID{0, 1, 2}, estimated: true},
	})
	tracks, n := FindTracksForProblem(rec, positions, 3, 0)
	test.That(t, tracks, test.ShouldBeEmpty)
	test.That(t, n, test.ShouldEqual, 0)
}

func TestSortedPairs(t *testing.T) {
	viewPairs := map[sfm.ViewIDPair]sfm.TwoViewInfo{
		sfm.NewViewIDPair(2, 3): {},
		sfm.NewViewIDPair(0, 4): {},
		sfm.NewViewIDPair(0, 1): {},
		sfm.NewViewIDPair(1, 2): {},
	}
	test.That(t, sortedPairs(viewPairs), test.ShouldResemble, []sfm.ViewIDPair{
		{First: 0, Second: 1}, {First: 0, Second: 4}, {First: 1, Second: 2}, {First: 2, Second: 3},
	})
}
