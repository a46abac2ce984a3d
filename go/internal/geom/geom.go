package geom

import "math"

// Vec3 is a world-space translation encoded as [x, y, z].
type Vec3 [3]float64

// Quat is a rotation quaternion encoded as [x, y, z, w].
type Quat [4]float64

// Identity is the zero rotation.
var Identity = Quat{0, 0, 0, 1}

// normTolerance is how far |q| may drift from 1 before Normalize rescales it.
const normTolerance = 1e-6

// IsFinite reports whether every component is a real number.
func (v Vec3) IsFinite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// PlanarDistance returns the distance between v and o on the ground plane (y ignored).
func (v Vec3) PlanarDistance(o Vec3) float64 {
	return math.Hypot(v[0]-o[0], v[2]-o[2])
}

// IsFinite reports whether every component is a real number.
func (q Quat) IsFinite() bool {
	for _, c := range q {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Length returns the quaternion magnitude.
func (q Quat) Length() float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}

// Normalize returns q scaled to unit length. ok is false when q is non-finite
// or too close to zero to carry a rotation.
func (q Quat) Normalize() (Quat, bool) {
	if !q.IsFinite() {
		return Quat{}, false
	}
	l := q.Length()
	if l < 1e-9 || math.IsInf(l, 0) {
		return Quat{}, false
	}
	if math.Abs(l-1) <= normTolerance {
		return q, true
	}
	return Quat{q[0] / l, q[1] / l, q[2] / l, q[3] / l}, true
}
