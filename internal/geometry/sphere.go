package geometry

import (
	"math"

	"cogentcore.org/core/math32"
)

// Snapshot holds the undeformed sphere. It is never mutated after NewSphere
// returns; deformation always starts again from these positions.
type Snapshot struct {
	radius     float64
	widthSegs  int
	heightSegs int
	positions  []math32.Vector3
	indices    []uint32
}

// VertexCount returns the number of vertices of a widthSegs x heightSegs sphere.
// Each ring carries one duplicated seam vertex and the poles are full rings.
func VertexCount(widthSegs, heightSegs int) int {
	return (widthSegs + 1) * (heightSegs + 1)
}

// IndexCount returns the triangle index count; the pole rows contribute one
// triangle per quad instead of two.
func IndexCount(widthSegs, heightSegs int) int {
	return 6 * widthSegs * (heightSegs - 1)
}

// NewSphere builds a UV sphere with rings running from the north pole (+Y)
// to the south pole (-Y).
func NewSphere(radius float64, widthSegs, heightSegs int) *Snapshot {
	s := &Snapshot{
		radius:     radius,
		widthSegs:  widthSegs,
		heightSegs: heightSegs,
		positions:  make([]math32.Vector3, 0, VertexCount(widthSegs, heightSegs)),
		indices:    make([]uint32, 0, IndexCount(widthSegs, heightSegs)),
	}

	grid := make([][]uint32, 0, heightSegs+1)
	for iy := 0; iy <= heightSegs; iy++ {
		v := float64(iy) / float64(heightSegs)
		sinV, cosV := math.Sincos(v * math.Pi)
		row := make([]uint32, 0, widthSegs+1)
		for ix := 0; ix <= widthSegs; ix++ {
			u := float64(ix) / float64(widthSegs)
			sinU, cosU := math.Sincos(u * 2 * math.Pi)
			s.positions = append(s.positions, math32.Vec3(
				float32(-radius*cosU*sinV),
				float32(radius*cosV),
				float32(radius*sinU*sinV),
			))
			row = append(row, uint32(len(s.positions)-1))
		}
		grid = append(grid, row)
	}

	for iy := 0; iy < heightSegs; iy++ {
		for ix := 0; ix < widthSegs; ix++ {
			a := grid[iy][ix+1]
			b := grid[iy][ix]
			c := grid[iy+1][ix]
			d := grid[iy+1][ix+1]
			if iy != 0 {
				s.indices = append(s.indices, a, b, d)
			}
			if iy != heightSegs-1 {
				s.indices = append(s.indices, b, c, d)
			}
		}
	}
	return s
}

// Positions returns the base vertices. Callers must not modify the slice.
func (s *Snapshot) Positions() []math32.Vector3 { return s.positions }

// Indices returns the triangle list. Callers must not modify the slice.
func (s *Snapshot) Indices() []uint32 { return s.indices }

func (s *Snapshot) Radius() float64 { return s.radius }

func (s *Snapshot) Segments() (int, int) { return s.widthSegs, s.heightSegs }

// Len returns the vertex count.
func (s *Snapshot) Len() int { return len(s.positions) }
