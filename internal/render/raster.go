package render

import (
	"math"

	"cogentcore.org/core/math32"
	"github.com/lucasb-eyer/go-colorful"
)

// camera is a perspective camera on the +Z axis looking at the origin.
type camera struct {
	fov      float64 // vertical, degrees
	distance float64
	near     float64
}

var defaultCamera = camera{fov: 75, distance: 8, near: 0.1}

var background = colorful.Color{R: 0x0a / 255.0, G: 0x0a / 255.0, B: 0x0a / 255.0}

const materialOpacity = 0.8

type cell struct {
	color colorful.Color
	depth float64
	set   bool
}

type framebuffer struct {
	width  int
	height int
	// cellAspect is the height of one cell divided by its width.
	cellAspect float64
	cells      []cell
}

func (fb *framebuffer) resize(width, height int) {
	fb.width = width
	fb.height = height
	if cap(fb.cells) < width*height {
		fb.cells = make([]cell, width*height)
	}
	fb.cells = fb.cells[:width*height]
}

func (fb *framebuffer) clear() {
	for i := range fb.cells {
		fb.cells[i] = cell{}
	}
}

func (fb *framebuffer) plot(x, y int, depth float64, c colorful.Color) {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return
	}
	p := &fb.cells[y*fb.width+x]
	if p.set && p.depth <= depth {
		return
	}
	p.color = c
	p.depth = depth
	p.set = true
}

// shader reproduces the sphere material: a vertical gradient from color2 at
// the bottom to color1 at the top, brightened where the surface faces the
// camera, drawn at 80% opacity over the background.
type shader struct {
	color1 colorful.Color
	color2 colorful.Color
}

func (s shader) shade(pos, normal math32.Vector3) colorful.Color {
	mix := smoothstep(0, 1, (float64(pos.Y)+3)/6)
	base := s.color2.BlendRgb(s.color1, mix)
	glow := float64(normal.Z)*0.8 + 0.2
	glow *= glow
	lit := colorful.Color{R: base.R * glow, G: base.G * glow, B: base.B * glow}
	return background.BlendRgb(lit, materialOpacity).Clamped()
}

type projected struct {
	x, y  float64
	depth float64
	ok    bool
}

// rasterizer draws the wireframe of an indexed triangle mesh.
type rasterizer struct {
	cam    camera
	screen []projected
}

func (rz *rasterizer) project(fb *framebuffer, positions []math32.Vector3, scale float64) {
	if cap(rz.screen) < len(positions) {
		rz.screen = make([]projected, len(positions))
	}
	rz.screen = rz.screen[:len(positions)]

	f := 1 / math.Tan(rz.cam.fov*math.Pi/360)
	aspect := float64(fb.width) / (float64(fb.height) * fb.cellAspect)
	for i, p := range positions {
		wx, wy, wz := float64(p.X)*scale, float64(p.Y)*scale, float64(p.Z)*scale
		d := rz.cam.distance - wz
		if d <= rz.cam.near {
			rz.screen[i] = projected{}
			continue
		}
		xn := f / aspect * wx / d
		yn := f * wy / d
		rz.screen[i] = projected{
			x:     (xn + 1) * 0.5 * float64(fb.width),
			y:     (1 - yn) * 0.5 * float64(fb.height),
			depth: d,
			ok:    true,
		}
	}
}

func (rz *rasterizer) draw(fb *framebuffer, sh shader, positions, normals []math32.Vector3, indices []uint32, scale float64) {
	if fb.width <= 0 || fb.height <= 0 || len(positions) == 0 {
		return
	}
	rz.project(fb, positions, scale)
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		rz.edge(fb, sh, positions, normals, a, b)
		rz.edge(fb, sh, positions, normals, b, c)
		rz.edge(fb, sh, positions, normals, c, a)
	}
}

func (rz *rasterizer) edge(fb *framebuffer, sh shader, positions, normals []math32.Vector3, ia, ib uint32) {
	pa, pb := rz.screen[ia], rz.screen[ib]
	if !pa.ok || !pb.ok {
		return
	}
	t0, t1, visible := clipSegment(pa.x, pa.y, pb.x, pb.y, float64(fb.width), float64(fb.height))
	if !visible {
		return
	}
	span := math.Max(math.Abs(pb.x-pa.x), math.Abs(pb.y-pa.y)) * (t1 - t0)
	steps := max(int(math.Ceil(span)), 1)
	var na, nb math32.Vector3
	if int(ib) < len(normals) && int(ia) < len(normals) {
		na, nb = normals[ia], normals[ib]
	}
	for s := 0; s <= steps; s++ {
		t := t0 + (t1-t0)*float64(s)/float64(steps)
		x := pa.x + (pb.x-pa.x)*t
		y := pa.y + (pb.y-pa.y)*t
		depth := pa.depth + (pb.depth-pa.depth)*t
		tf := float32(t)
		pos := lerpVec(positions[ia], positions[ib], tf)
		n := lerpVec(na, nb, tf)
		fb.plot(int(math.Floor(x)), int(math.Floor(y)), depth, sh.shade(pos, n))
	}
}

// clipSegment returns the parameter range of the segment a-b that lies inside
// the width x height rectangle (Liang-Barsky). visible is false when the
// segment misses it entirely.
func clipSegment(ax, ay, bx, by, width, height float64) (t0, t1 float64, visible bool) {
	t0, t1 = 0, 1
	dx, dy := bx-ax, by-ay
	for _, bound := range [4][2]float64{
		{-dx, ax},
		{dx, width - ax},
		{-dy, ay},
		{dy, height - ay},
	} {
		p, q := bound[0], bound[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return 0, 0, false
			}
			t0 = max(t0, r)
		} else {
			if r < t0 {
				return 0, 0, false
			}
			t1 = min(t1, r)
		}
	}
	return t0, t1, true
}

func lerpVec(a, b math32.Vector3, t float32) math32.Vector3 {
	return a.Add(b.Sub(a).MulScalar(t))
}

func smoothstep(edge0, edge1, x float64) float64 {
	t := clamp01((x - edge0) / (edge1 - edge0))
	return t * t * (3 - 2*t)
}
