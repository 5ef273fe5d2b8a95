package mapillary

import (
	"fmt"

	"github.com/paulmach/orb/maptile"

	"github.com/streetscope/mapillary-meta/pkg/geo"
)

// FetchError reports a failed metadata request, identifying the offending
// bounding box and, for tiled queries, the tile.
type FetchError struct {
	Status int
	BBox   geo.BBox
	Tile   *maptile.Tile
	Msg    string
}

func (e *FetchError) Error() string {
	where := "bbox " + e.BBox.String()
	if e.Tile != nil {
		where = fmt.Sprintf("tile %d/%d/%d", e.Tile.Z, e.Tile.X, e.Tile.Y)
	}
	if e.Msg != "" {
		return fmt.Sprintf("mapillary: fetch %s: status %d: %s", where, e.Status, e.Msg)
	}
	return fmt.Sprintf("mapillary: fetch %s: status %d", where, e.Status)
}
