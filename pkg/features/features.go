// Package features reshapes raw metadata records into a GeoJSON feature
// collection: one feature per image, point geometry plus the remaining
// record fields flattened into properties.
package features

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"
)

// MalformedRecordError describes one record that could not be converted.
type MalformedRecordError struct {
	ID     string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed record %s: %s", e.ID, e.Reason)
	}
	return "malformed record: " + e.Reason
}

// Collection holds the converted image records. Ownership transfers to the
// caller; nothing in the library mutates a returned Collection.
type Collection struct {
	fc      *geojson.FeatureCollection
	skipped int
}

// FromRecords converts raw records into a Collection. Malformed records
// are skipped with a warning rather than aborting the batch; Skipped
// reports how many were dropped. An empty input yields an empty, valid
// Collection.
func FromRecords(records []json.RawMessage, log zerolog.Logger) *Collection {
	fc := geojson.NewFeatureCollection()
	skipped := 0
	for _, rec := range records {
		f, err := recordToFeature(rec)
		if err != nil {
			log.Warn().Err(err).Msg("skipping record")
			skipped++
			continue
		}
		fc.Append(f)
	}
	return &Collection{fc: fc, skipped: skipped}
}

func recordToFeature(rec json.RawMessage) (*geojson.Feature, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rec, &obj); err != nil {
		return nil, &MalformedRecordError{Reason: "not a JSON object"}
	}

	id := rawID(obj)

	geomRaw, ok := obj["geometry"]
	if !ok || len(geomRaw) == 0 {
		return nil, &MalformedRecordError{ID: id, Reason: `missing "geometry"`}
	}
	g, err := geojson.UnmarshalGeometry(geomRaw)
	if err != nil {
		return nil, &MalformedRecordError{ID: id, Reason: "invalid geometry: " + err.Error()}
	}

	f := geojson.NewFeature(g.Geometry())
	if id != "" {
		f.ID = id
	}
	for k, v := range obj {
		if k == "geometry" {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			val = string(v)
		}
		f.Properties[k] = val
	}
	return f, nil
}

func rawID(obj map[string]json.RawMessage) string {
	idRaw, ok := obj["id"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(idRaw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(idRaw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (c *Collection) Len() int { return len(c.fc.Features) }

func (c *Collection) Empty() bool { return c.Len() == 0 }

// Skipped reports how many malformed records were dropped during
// conversion.
func (c *Collection) Skipped() int { return c.skipped }

// Features exposes the underlying rows read-only.
func (c *Collection) Features() []*geojson.Feature { return c.fc.Features }

// FilterWithin keeps only features whose point lies inside the geometry.
// Features without a point geometry are kept when their bound center is
// inside, mirroring the permissive filtering of the metadata source.
func (c *Collection) FilterWithin(g orb.Geometry) *Collection {
	out := geojson.NewFeatureCollection()
	for _, f := range c.fc.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			p = f.Geometry.Bound().Center()
		}
		if contains(g, p) {
			out.Append(f)
		}
	}
	return &Collection{fc: out, skipped: c.skipped}
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, p)
	case orb.Bound:
		return t.Contains(p)
	default:
		return g.Bound().Contains(p)
	}
}

// MarshalJSON renders the collection as a GeoJSON FeatureCollection.
func (c *Collection) MarshalJSON() ([]byte, error) {
	return c.fc.MarshalJSON()
}

// WriteGeoJSON writes the collection to w. An empty collection writes a
// valid empty FeatureCollection.
func (c *Collection) WriteGeoJSON(w io.Writer) error {
	buf, err := c.fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal feature collection: %w", err)
	}
	_, err = w.Write(buf)
	return err
}

// SaveGeoJSON writes the collection to a file, replacing any previous
// content.
func (c *Collection) SaveGeoJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WriteGeoJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
