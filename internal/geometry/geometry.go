// Package geometry maps controller-side screen coordinates into the stream's
// coordinate space and back.
package geometry

// Point is an absolute or stream-relative coordinate pair.
type Point struct {
	X int
	Y int
}

// Rect is a window geometry in absolute screen coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Contains reports whether p lies inside r (right and bottom edges excluded).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width &&
		p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Center returns the integer centre of r.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Transform describes the stream bounds and the target-side origin the
// stream is rendered at.
type Transform struct {
	StreamWidth  int
	StreamHeight int
	OriginX      int
	OriginY      int
}

// ToAbsolute maps a stream-relative point to the target's absolute
// coordinates.
func (t Transform) ToAbsolute(rel Point) Point {
	return Point{X: t.OriginX + rel.X, Y: t.OriginY + rel.Y}
}

// WindowQuery finds top-level windows by name.
type WindowQuery interface {
	WindowsByName(name string) ([]Rect, error)
}

// Mapper converts absolute controller coordinates into stream-relative ones.
type Mapper struct {
	Transform Transform
}

// NewMapper returns a Mapper for t.
func NewMapper(t Transform) *Mapper {
	return &Mapper{Transform: t}
}

// Map scales p from region into [0,StreamWidth) x [0,StreamHeight).
// The second result is false when p falls outside region or region is empty.
func (m *Mapper) Map(p Point, region Rect) (Point, bool) {
	if region.Empty() || m.Transform.StreamWidth <= 0 || m.Transform.StreamHeight <= 0 {
		return Point{}, false
	}
	if !region.Contains(p) {
		return Point{}, false
	}

	rel := Point{
		X: scale(p.X-region.X, m.Transform.StreamWidth, region.Width),
		Y: scale(p.Y-region.Y, m.Transform.StreamHeight, region.Height),
	}
	return rel, true
}

// Unmap is the inverse of Map: it projects a stream-relative point back onto
// region. Results are exact up to one unit of rounding.
func (m *Mapper) Unmap(rel Point, region Rect) Point {
	if m.Transform.StreamWidth <= 0 || m.Transform.StreamHeight <= 0 {
		return Point{X: region.X, Y: region.Y}
	}
	return Point{
		X: region.X + scaleUp(rel.X, region.Width, m.Transform.StreamWidth),
		Y: region.Y + scaleUp(rel.Y, region.Height, m.Transform.StreamHeight),
	}
}

// scale computes floor(offset*to/from) using 64-bit intermediates.
func scale(offset, to, from int) int {
	return int(int64(offset) * int64(to) / int64(from))
}

// scaleUp computes ceil(v*to/from), which undoes scale's floor when the
// stream is coarser than the region.
func scaleUp(v, to, from int) int {
	n := int64(v) * int64(to)
	d := int64(from)
	return int((n + d - 1) / d)
}
