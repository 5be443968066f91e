package sfm

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is returned when a view carries invalid camera intrinsics.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeCameraIntrinsics holds the parameters of an undistorted pinhole camera.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.Wrap(ErrNoIntrinsics, "intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return errors.Wrap(ErrNoIntrinsics, fmt.Sprintf("invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return errors.Wrap(ErrNoIntrinsics, fmt.Sprintf("invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return errors.Wrap(ErrNoIntrinsics, fmt.Sprintf("invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// PixelToRay back-projects a pixel into the unit ray K^-1 [u v 1] in camera coordinates.
// A nil receiver treats the feature as a normalized image coordinate.
func (params *PinholeCameraIntrinsics) PixelToRay(pt r2.Point) r3.Vector {
	ray := r3.Vector{X: pt.X, Y: pt.Y, Z: 1}
	if params != nil {
		ray.X = (pt.X - params.Ppx) / params.Fx
		ray.Y = (pt.Y - params.Ppy) / params.Fy
	}
	return ray.Normalize()
}

// PointToPixel projects a point in camera coordinates onto the image plane. ok is false for
// points at or behind the camera center.
func (params *PinholeCameraIntrinsics) PointToPixel(pt r3.Vector) (r2.Point, bool) {
	if pt.Z <= 0 {
		return r2.Point{}, false
	}
	x, y := pt.X/pt.Z, pt.Y/pt.Z
	if params == nil {
		return r2.Point{X: x, Y: y}, true
	}
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}, true
}

// InBounds reports whether a pixel lies within the image. A nil receiver accepts everything.
func (params *PinholeCameraIntrinsics) InBounds(pt r2.Point) bool {
	if params == nil {
		return true
	}
	return pt.X >= 0 && pt.Y >= 0 && pt.X < float64(params.Width) && pt.Y < float64(params.Height)
}
