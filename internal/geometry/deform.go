package geometry

import (
	"math"

	"cogentcore.org/core/math32"
)

// wave is one travelling sine over the sphere's angular coordinates.
type wave struct {
	amplitude float64
	rate      float64 // temporal frequency
	theta     float64 // spatial frequency along the azimuth
	phi       float64 // spatial frequency along the polar angle
}

var ripples = [...]wave{
	{amplitude: 0.15, rate: 3, theta: 8},
	{amplitude: 0.10, rate: 2, phi: 6},
	{amplitude: 0.08, rate: 4, theta: 4, phi: 4},
}

// displacementDamping keeps the ripple small relative to the radius.
const displacementDamping = 0.2

// DisplacementFactor returns the radial scale applied to a vertex at the given
// angles.
func DisplacementFactor(theta, phi, time, waveIntensity float64) float64 {
	sum := 0.0
	for _, w := range ripples {
		sum += math.Sin(time*w.rate+theta*w.theta+phi*w.phi) * w.amplitude
	}
	return 1 + sum*waveIntensity*displacementDamping
}

// Deform writes the rippled positions of base into dst and returns it. dst is
// grown when too small. A vertex at the origin has no direction and is copied
// through unchanged.
func Deform(base []math32.Vector3, time, waveIntensity float64, dst []math32.Vector3) []math32.Vector3 {
	if cap(dst) < len(base) {
		dst = make([]math32.Vector3, len(base))
	}
	dst = dst[:len(base)]

	for i, v := range base {
		x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
		r := math.Sqrt(x*x + y*y + z*z)
		if r == 0 {
			dst[i] = v
			continue
		}
		theta := math.Atan2(y, x)
		phi := math.Acos(clamp(z/r, -1, 1))
		f := DisplacementFactor(theta, phi, time, waveIntensity)
		dst[i] = math32.Vec3(float32(x*f), float32(y*f), float32(z*f))
	}
	return dst
}

// ComputeNormals writes smooth per-vertex normals for an indexed triangle list:
// every face adds its area-weighted normal to its three corners and the sums are
// normalised afterwards. Vertices not referenced by any face get a zero normal.
func ComputeNormals(positions []math32.Vector3, indices []uint32, dst []math32.Vector3) []math32.Vector3 {
	if cap(dst) < len(positions) {
		dst = make([]math32.Vector3, len(positions))
	}
	dst = dst[:len(positions)]
	for i := range dst {
		dst[i] = math32.Vector3{}
	}

	for i := 0; i+2 < len(indices); i += 3 {
		ia, ib, ic := indices[i], indices[i+1], indices[i+2]
		a, b, c := positions[ia], positions[ib], positions[ic]
		face := c.Sub(b).Cross(a.Sub(b))
		dst[ia] = dst[ia].Add(face)
		dst[ib] = dst[ib].Add(face)
		dst[ic] = dst[ic].Add(face)
	}

	for i, n := range dst {
		lenSq := n.LengthSquared()
		if lenSq > 0 {
			dst[i] = n.MulScalar(1 / math32.Sqrt(lenSq))
		}
	}
	return dst
}

// Mesh is the render-side buffer set that is rewritten every frame.
type Mesh struct {
	Positions []math32.Vector3
	Normals   []math32.Vector3
	Indices   []uint32
}

// Deform recomputes the mesh from the snapshot. Buffers are reused between
// calls as long as the vertex count stays the same.
func (m *Mesh) Deform(base *Snapshot, time, waveIntensity float64) {
	m.Positions = Deform(base.Positions(), time, waveIntensity, m.Positions)
	m.Indices = base.Indices()
	m.Normals = ComputeNormals(m.Positions, m.Indices, m.Normals)
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
