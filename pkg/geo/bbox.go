// Package geo provides bounding-box arithmetic and web-mercator tile
// coverage for metadata queries.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// meters per degree of latitude, and of longitude at the equator
const metersPerDegree = 111320.0

// BBox is an axis-aligned rectangle in WGS84 degrees.
type BBox struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

func (b BBox) Validate() error {
	if b.MinLon < -180 || b.MinLon > 180 || b.MaxLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("longitude out of range [-180, 180]: %s", b)
	}
	if b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]: %s", b)
	}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return fmt.Errorf("min exceeds max: %s", b)
	}
	return nil
}

// String renders the box in the API's bbox parameter order:
// minLon,minLat,maxLon,maxLat.
func (b BBox) String() string {
	parts := [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
	out := make([]string, 0, 4)
	for _, f := range parts {
		out = append(out, strconv.FormatFloat(f, 'f', -1, 64))
	}
	return strings.Join(out, ",")
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

func FromBound(bd orb.Bound) BBox {
	return BBox{
		MinLon: bd.Min.Lon(), MinLat: bd.Min.Lat(),
		MaxLon: bd.Max.Lon(), MaxLat: bd.Max.Lat(),
	}
}

// Intersect returns the overlap of two boxes; ok is false when they are
// disjoint.
func (b BBox) Intersect(o BBox) (BBox, bool) {
	out := BBox{
		MinLon: math.Max(b.MinLon, o.MinLon),
		MinLat: math.Max(b.MinLat, o.MinLat),
		MaxLon: math.Min(b.MaxLon, o.MaxLon),
		MaxLat: math.Min(b.MaxLat, o.MaxLat),
	}
	if out.MinLon > out.MaxLon || out.MinLat > out.MaxLat {
		return BBox{}, false
	}
	return out, true
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox needs 4 comma-separated values, got %d", len(parts))
	}
	vals := [4]float64{}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox value %d: %w", i, err)
		}
		vals[i] = f
	}
	b := BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

// RadiusToDegrees converts a metric radius to a degree delta at the given
// latitude, correcting for meridian convergence with cos(lat).
func RadiusToDegrees(radius, lat float64) (float64, error) {
	if radius <= 0 {
		return 0, fmt.Errorf("radius must be positive, got %g", radius)
	}
	if err := checkLat(lat); err != nil {
		return 0, err
	}
	return radius / (metersPerDegree * math.Cos(lat*math.Pi/180)), nil
}

// DegreesToRadius is the inverse of RadiusToDegrees.
func DegreesToRadius(degrees, lat float64) (float64, error) {
	if degrees <= 0 {
		return 0, fmt.Errorf("degrees must be positive, got %g", degrees)
	}
	if err := checkLat(lat); err != nil {
		return 0, err
	}
	return degrees * metersPerDegree * math.Cos(lat*math.Pi/180), nil
}

// BoundingBoxAround returns the box centered on (lon, lat) whose extents
// are the radius converted to degrees.
func BoundingBoxAround(lon, lat, radius float64) (BBox, error) {
	if lon < -180 || lon > 180 {
		return BBox{}, fmt.Errorf("longitude out of range [-180, 180]: %g", lon)
	}
	deg, err := RadiusToDegrees(radius, lat)
	if err != nil {
		return BBox{}, err
	}
	b := BBox{
		MinLon: lon - deg, MinLat: lat - deg,
		MaxLon: lon + deg, MaxLat: lat + deg,
	}
	// clamp rather than reject: a radius near a pole or the antimeridian
	// still names a valid area
	b.MinLon = math.Max(b.MinLon, -180)
	b.MaxLon = math.Min(b.MaxLon, 180)
	b.MinLat = math.Max(b.MinLat, -90)
	b.MaxLat = math.Min(b.MaxLat, 90)
	return b, nil
}

// conversion is undefined where cos(lat) reaches zero
func checkLat(lat float64) error {
	if lat <= -90 || lat >= 90 {
		return fmt.Errorf("latitude out of range (-90, 90): %g", lat)
	}
	return nil
}
