package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrix is a 3x3 matrix in row major order.
// m[3*r + c] is the element in the r'th row and c'th column.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates the rotation matrix from a slice of 9 row major values.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	var rm RotationMatrix
	copy(rm.mat[:], m)
	return &rm, nil
}

// NewIdentityRotationMatrix returns the identity rotation.
func NewIdentityRotationMatrix() *RotationMatrix {
	return &RotationMatrix{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// AngleAxisToRotationMatrix converts an R3 angle axis to a rotation matrix with Rodrigues' formula.
func AngleAxisToRotationMatrix(aa r3.Vector) *RotationMatrix {
	thetaSq := aa.Norm2()
	if thetaSq > 0 {
		theta := math.Sqrt(thetaSq)
		w := aa.Mul(1 / theta)
		c, s := math.Cos(theta), math.Sin(theta)
		oneMinusC := 1 - c
		return &RotationMatrix{[9]float64{
			c + w.X*w.X*oneMinusC, w.X*w.Y*oneMinusC - w.Z*s, w.Y*s + w.X*w.Z*oneMinusC,
			w.Z*s + w.X*w.Y*oneMinusC, c + w.Y*w.Y*oneMinusC, -w.X*s + w.Y*w.Z*oneMinusC,
			-w.Y*s + w.X*w.Z*oneMinusC, w.X*s + w.Y*w.Z*oneMinusC, c + w.Z*w.Z*oneMinusC,
		}}
	}
	// First order approximation I + [aa]x near zero.
	return &RotationMatrix{[9]float64{
		1, -aa.Z, aa.Y,
		aa.Z, 1, -aa.X,
		-aa.Y, aa.X, 1,
	}}
}

// At returns the value at row, col.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the row at the given index as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[row*3], Y: rm.mat[row*3+1], Z: rm.mat[row*3+2]}
}

// Col returns the column at the given index as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[col+3], Z: rm.mat[col+6]}
}

// Transpose returns the transpose, which is also the inverse rotation.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	m := rm.mat
	return &RotationMatrix{[9]float64{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}}
}

// MulVec returns rm * v.
func (rm *RotationMatrix) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// Mul returns rm * other.
func (rm *RotationMatrix) Mul(other *RotationMatrix) *RotationMatrix {
	var out RotationMatrix
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.mat[r*3+c] = rm.Row(r).Dot(other.Col(c))
		}
	}
	return &out
}

// Dense returns the rotation as a 3x3 gonum matrix.
func (rm *RotationMatrix) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, rm.mat[:])
	return mat.NewDense(3, 3, data)
}

// Quaternion returns the unit quaternion for the rotation matrix.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/matrixToQuaternion/
func (rm *RotationMatrix) Quaternion() quat.Number {
	m := rm.mat
	var q quat.Number
	tr := m[0] + m[4] + m[8]
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1.0) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (m[7] - m[5]) / s, Jmag: (m[2] - m[6]) / s, Kmag: (m[3] - m[1]) / s}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1.0+m[0]-m[4]-m[8]) * 2
		q = quat.Number{Real: (m[7] - m[5]) / s, Imag: 0.25 * s, Jmag: (m[1] + m[3]) / s, Kmag: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := math.Sqrt(1.0+m[4]-m[0]-m[8]) * 2
		q = quat.Number{Real: (m[2] - m[6]) / s, Imag: (m[1] + m[3]) / s, Jmag: 0.25 * s, Kmag: (m[5] + m[7]) / s}
	default:
		s := math.Sqrt(1.0+m[8]-m[0]-m[4]) * 2
		q = quat.Number{Real: (m[3] - m[1]) / s, Imag: (m[2] + m[6]) / s, Jmag: (m[5] + m[7]) / s, Kmag: 0.25 * s}
	}
	return Normalize(q)
}

// AngleAxis returns the R3 angle axis for the rotation matrix.
func (rm *RotationMatrix) AngleAxis() r3.Vector {
	return QuatToAngleAxis(rm.Quaternion())
}

// ProjectToRotationMatrix returns the rotation closest to m in the Frobenius norm, computed from
// the SVD m = U S V^T as U diag(1, 1, det(U V^T)) V^T.
func ProjectToRotationMatrix(m mat.Matrix) (*RotationMatrix, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	var u, v, uvt mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	uvt.Mul(&u, v.T())
	d := mat.NewDiagDense(3, []float64{1, 1, math.Copysign(1, mat.Det(&uvt))})
	var ud, out mat.Dense
	ud.Mul(&u, d)
	out.Mul(&ud, v.T())
	return NewRotationMatrix(out.RawMatrix().Data)
}
