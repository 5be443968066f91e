package sfm

import (
	"slices"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// View is a single image in a reconstruction along with the track observations it contains.
type View struct {
	ID         ViewID
	Name       string
	Intrinsics *PinholeCameraIntrinsics
	Features   map[TrackID]r2.Point
}

// NumFeatures returns the number of tracks observed by the view.
func (v *View) NumFeatures() int {
	return len(v.Features)
}

// Feature returns the observation of a track in this view.
func (v *View) Feature(id TrackID) (r2.Point, bool) {
	f, ok := v.Features[id]
	return f, ok
}

// TrackIDs returns the ids of the observed tracks in ascending order.
func (v *View) TrackIDs() []TrackID {
	return sortedKeys(v.Features)
}

// Track is a 3D point observed by one or more views.
type Track struct {
	ID        TrackID
	Point     r3.Vector
	Estimated bool
	Views     map[ViewID]struct{}
}

// NumViews returns the number of views observing the track.
func (t *Track) NumViews() int {
	return len(t.Views)
}

// ViewIDs returns the observing views in ascending order.
func (t *Track) ViewIDs() []ViewID {
	return sortedKeys(t.Views)
}

// ReconstructionReader is the read-only view of a reconstruction used by the estimators.
type ReconstructionReader interface {
	// View returns nil when id is unknown.
	View(id ViewID) *View
	// Track returns nil when id is unknown.
	Track(id TrackID) *Track
	// ViewIDs returns all view ids in ascending order.
	ViewIDs() []ViewID
	// TrackIDs returns all track ids in ascending order.
	TrackIDs() []TrackID
}

// Reconstruction is an in-memory ReconstructionReader.
type Reconstruction struct {
	views       map[ViewID]*View
	tracks      map[TrackID]*Track
	nextViewID  ViewID
	nextTrackID TrackID
}

// NewReconstruction returns an empty reconstruction.
func NewReconstruction() *Reconstruction {
	return &Reconstruction{
		views:  map[ViewID]*View{},
		tracks: map[TrackID]*Track{},
	}
}

// AddView adds a view and returns its id.
func (r *Reconstruction) AddView(name string, intrinsics *PinholeCameraIntrinsics) ViewID {
	id := r.nextViewID
	r.nextViewID++
	r.views[id] = &View{
		ID:         id,
		Name:       name,
		Intrinsics: intrinsics,
		Features:   map[TrackID]r2.Point{},
	}
	return id
}

// AddTrack adds a track at the given position. Tracks added with a position are marked estimated.
func (r *Reconstruction) AddTrack(point r3.Vector, estimated bool) TrackID {
	id := r.nextTrackID
	r.nextTrackID++
	r.tracks[id] = &Track{
		ID:        id,
		Point:     point,
		Estimated: estimated,
		Views:     map[ViewID]struct{}{},
	}
	return id
}

// AddObservation records that view observes track at the given feature location.
func (r *Reconstruction) AddObservation(viewID ViewID, trackID TrackID, feature r2.Point) error {
	view, ok := r.views[viewID]
	if !ok {
		return errors.Errorf("view %d does not exist", viewID)
	}
	track, ok := r.tracks[trackID]
	if !ok {
		return errors.Errorf("track %d does not exist", trackID)
	}
	if _, ok := view.Features[trackID]; ok {
		return errors.Errorf("view %d already observes track %d", viewID, trackID)
	}
	view.Features[trackID] = feature
	track.Views[viewID] = struct{}{}
	return nil
}

// View returns the view with the given id or nil.
func (r *Reconstruction) View(id ViewID) *View {
	return r.views[id]
}

// Track returns the track with the given id or nil.
func (r *Reconstruction) Track(id TrackID) *Track {
	return r.tracks[id]
}

// ViewIDs returns all view ids in ascending order.
func (r *Reconstruction) ViewIDs() []ViewID {
	return sortedKeys(r.views)
}

// TrackIDs returns all track ids in ascending order.
func (r *Reconstruction) TrackIDs() []TrackID {
	return sortedKeys(r.tracks)
}

// NumViews returns the number of views.
func (r *Reconstruction) NumViews() int {
	return len(r.views)
}

// NumTracks returns the number of tracks.
func (r *Reconstruction) NumTracks() int {
	return len(r.tracks)
}

func sortedKeys[K ViewID | TrackID, V any](m map[K]V) []K {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
