package vnc

import (
	"image"
)

// maxRegionRects bounds a Region; past it the rectangles collapse into
// their bounding box.
const maxRegionRects = 16

// Region is a set of damaged rectangles. The zero value is empty.
type Region struct {
	rects []image.Rectangle
}

// NewRegion returns a region holding r.
func NewRegion(r image.Rectangle) Region {
	var reg Region
	reg.Add(r)
	return reg
}

// Add unions r into the region.
func (reg *Region) Add(r image.Rectangle) {
	if r.Empty() {
		return
	}
	for i, have := range reg.rects {
		if r.In(have) {
			return
		}
		if have.In(r) {
			reg.rects[i] = r
			reg.coalesce()
			return
		}
	}
	reg.rects = append(reg.rects, r)
	if len(reg.rects) > maxRegionRects {
		reg.rects = []image.Rectangle{reg.Bounds()}
	}
}

// coalesce drops rectangles contained in another one.
func (reg *Region) coalesce() {
	out := make([]image.Rectangle, 0, len(reg.rects))
	for i, r := range reg.rects {
		covered := false
		for j, o := range reg.rects {
			if i != j && r.In(o) && (r != o || j < i) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, r)
		}
	}
	reg.rects = out
}

// Union adds every rectangle of other.
func (reg *Region) Union(other Region) {
	for _, r := range other.rects {
		reg.Add(r)
	}
}

// Intersect returns the part of the region inside r.
func (reg Region) Intersect(r image.Rectangle) Region {
	var out Region
	for _, have := range reg.rects {
		out.Add(have.Intersect(r))
	}
	return out
}

// Bounds is the smallest rectangle covering the region.
func (reg Region) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, r := range reg.rects {
		b = b.Union(r)
	}
	return b
}

// Rects returns a copy of the rectangles.
func (reg Region) Rects() []image.Rectangle {
	return append([]image.Rectangle(nil), reg.rects...)
}

func (reg Region) Empty() bool {
	return len(reg.rects) == 0
}

// Clear empties the region.
func (reg *Region) Clear() {
	reg.rects = reg.rects[:0]
}
