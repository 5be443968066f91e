// Package sfm contains the data model shared by the global pose estimators: view and track
// identifiers, two-view geometry and an in-memory reconstruction.
package sfm

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ViewID identifies a camera view.
type ViewID uint32

// TrackID identifies a 3D track.
type TrackID uint32

const (
	// InvalidViewID is never assigned to a view.
	InvalidViewID = ViewID(math.MaxUint32)
	// InvalidTrackID is never assigned to a track.
	InvalidTrackID = TrackID(math.MaxUint32)
)

// ViewIDPair is an ordered pair of view ids. Pairs built with NewViewIDPair always have
// First < Second.
type ViewIDPair struct {
	First  ViewID
	Second ViewID
}

// NewViewIDPair returns the canonical pair for two views.
func NewViewIDPair(a, b ViewID) ViewIDPair {
	if b < a {
		a, b = b, a
	}
	return ViewIDPair{First: a, Second: b}
}

// String returns "(first, second)".
func (p ViewIDPair) String() string {
	return fmt.Sprintf("(%d, %d)", p.First, p.Second)
}

// TwoViewInfo is the relative geometry estimated between the two views of a ViewIDPair.
//
// Rotation2 is the angle axis of R_second * R_first^T, where R_i maps world coordinates into
// camera i. Position2 is the (unit) position of the second camera expressed in the first camera's
// coordinate frame.
type TwoViewInfo struct {
	Rotation2          r3.Vector `json:"rotation_2"`
	Position2          r3.Vector `json:"position_2"`
	NumVerifiedMatches int       `json:"num_verified_matches"`
}
