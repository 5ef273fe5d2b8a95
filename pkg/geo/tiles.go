package geo

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
)

// DefaultZoom is the tile zoom used for partitioned queries. At this level
// a tile is small enough that a single request stays under the API's
// per-query result limit in dense cities.
const DefaultZoom = 18

// MaxZoom bounds the accepted zoom range for the standard tile pyramid.
const MaxZoom = 22

func validateZoom(zoom int) error {
	if zoom < 0 || zoom > MaxZoom {
		return fmt.Errorf("invalid zoom %d (must be 0..%d)", zoom, MaxZoom)
	}
	return nil
}

// TileRange iterates the (zoom, x, y) grid covering a bounding box. It is
// lazy, finite and restartable; callers pull tiles with Next and may Reset
// to replay the sequence.
type TileRange struct {
	z          maptile.Zoom
	minX, maxX uint32
	minY, maxY uint32
	x, y       uint32
	done       bool
}

// Cover returns the tile range covering b at the given zoom. The range has
// no gaps; tiles on the boundary may extend past b.
func Cover(b BBox, zoom int) (*TileRange, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := validateZoom(zoom); err != nil {
		return nil, err
	}

	z := maptile.Zoom(zoom)
	topLeft := maptile.At(orb.Point{b.MinLon, b.MaxLat}, z)
	bottomRight := maptile.At(orb.Point{b.MaxLon, b.MinLat}, z)

	minX, maxX := topLeft.X, bottomRight.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := topLeft.Y, bottomRight.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	r := &TileRange{z: z, minX: minX, maxX: maxX, minY: minY, maxY: maxY}
	r.Reset()
	return r, nil
}

// Len reports the total number of tiles in the range, independent of the
// cursor position.
func (r *TileRange) Len() int {
	return int(r.maxX-r.minX+1) * int(r.maxY-r.minY+1)
}

// Next returns the next tile in row-major order, or false when exhausted.
func (r *TileRange) Next() (maptile.Tile, bool) {
	if r.done {
		return maptile.Tile{}, false
	}
	t := maptile.New(r.x, r.y, r.z)

	if r.x < r.maxX {
		r.x++
	} else if r.y < r.maxY {
		r.x = r.minX
		r.y++
	} else {
		r.done = true
	}
	return t, true
}

// Reset rewinds the iterator to the first tile.
func (r *TileRange) Reset() {
	r.x = r.minX
	r.y = r.minY
	r.done = false
}

// Tiles drains the range into a slice, leaving the cursor exhausted.
func (r *TileRange) Tiles() maptile.Tiles {
	out := make(maptile.Tiles, 0, r.Len())
	for {
		t, ok := r.Next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

// CoverPolygon returns the exact covering tile set of a geometry at the
// given zoom, sorted and de-duplicated for determinism.
func CoverPolygon(g orb.Geometry, zoom int) (maptile.Tiles, error) {
	if g == nil {
		return nil, fmt.Errorf("nil geometry")
	}
	if err := validateZoom(zoom); err != nil {
		return nil, err
	}

	set, err := tilecover.Geometry(g, maptile.Zoom(zoom))
	if err != nil {
		return nil, fmt.Errorf("tile cover: %w", err)
	}

	out := make(maptile.Tiles, 0, len(set))
	for t, ok := range set {
		if ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return out, nil
}

// TileBBox converts a tile's extent back to a BBox.
func TileBBox(t maptile.Tile) BBox {
	return FromBound(t.Bound())
}
