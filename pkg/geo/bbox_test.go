package geo

import (
	"math"
	"testing"
)

func TestBoundingBoxAround_MinNotAboveMax(t *testing.T) {
	cases := []struct {
		lon, lat, radius float64
	}{
		{12.49, 41.89, 100},
		{-73.97, 40.78, 2500},
		{151.21, -33.87, 50},
		{0, 0, 1000},
		{179.9, 70, 5000},
	}
	for _, c := range cases {
		b, err := BoundingBoxAround(c.lon, c.lat, c.radius)
		if err != nil {
			t.Fatalf("BoundingBoxAround(%v, %v, %v): %v", c.lon, c.lat, c.radius, err)
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("box %s invalid: %v", b, err)
		}
		if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
			t.Fatalf("box %s has min above max", b)
		}
	}
}

func TestRadiusToDegrees_MonotonicInRadius(t *testing.T) {
	prev := 0.0
	for _, r := range []float64{1, 10, 100, 1000, 10000} {
		deg, err := RadiusToDegrees(r, 45)
		if err != nil {
			t.Fatalf("radius %v: %v", r, err)
		}
		if deg <= prev {
			t.Fatalf("expected monotonic increase, got %v after %v", deg, prev)
		}
		prev = deg
	}
}

func TestRadiusToDegrees_GrowsTowardPoles(t *testing.T) {
	prev := 0.0
	for _, lat := range []float64{0, 30, 60, 80, 89} {
		deg, err := RadiusToDegrees(500, lat)
		if err != nil {
			t.Fatalf("lat %v: %v", lat, err)
		}
		if deg <= prev {
			t.Fatalf("expected delta to grow toward the pole, got %v at lat %v after %v", deg, lat, prev)
		}
		prev = deg
	}
}

func TestRadiusToDegrees_RejectsBadInput(t *testing.T) {
	if _, err := RadiusToDegrees(100, 90); err == nil {
		t.Fatalf("expected error at lat=90")
	}
	if _, err := RadiusToDegrees(100, -95); err == nil {
		t.Fatalf("expected error at lat=-95")
	}
	if _, err := RadiusToDegrees(0, 45); err == nil {
		t.Fatalf("expected error for zero radius")
	}
	if _, err := RadiusToDegrees(-5, 45); err == nil {
		t.Fatalf("expected error for negative radius")
	}
}

func TestDegreesRadiusRoundTrip(t *testing.T) {
	deg, err := RadiusToDegrees(1234, 52.5)
	if err != nil {
		t.Fatalf("to degrees: %v", err)
	}
	back, err := DegreesToRadius(deg, 52.5)
	if err != nil {
		t.Fatalf("to radius: %v", err)
	}
	if math.Abs(back-1234) > 1e-6 {
		t.Fatalf("round trip drifted: got %v", back)
	}
}

func TestParseBBox(t *testing.T) {
	b, err := ParseBBox("12.4,41.8,12.6,41.95")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.MinLon != 12.4 || b.MinLat != 41.8 || b.MaxLon != 12.6 || b.MaxLat != 41.95 {
		t.Fatalf("unexpected box: %+v", b)
	}

	if _, err := ParseBBox("1,2,3"); err == nil {
		t.Fatalf("expected error for 3 values")
	}
	if _, err := ParseBBox("12.6,41.8,12.4,41.95"); err == nil {
		t.Fatalf("expected error for minLon > maxLon")
	}
	if _, err := ParseBBox("12.4,91,12.6,92"); err == nil {
		t.Fatalf("expected error for latitude out of range")
	}
	if _, err := ParseBBox("a,b,c,d"); err == nil {
		t.Fatalf("expected error for non-numeric values")
	}
}

func TestBBoxIntersect(t *testing.T) {
	a := BBox{MinLon: 0, MinLat: 0, MaxLon: 2, MaxLat: 2}
	b := BBox{MinLon: 1, MinLat: 1, MaxLon: 3, MaxLat: 3}

	got, ok := a.Intersect(b)
	if !ok {
		t.Fatalf("overlapping boxes reported disjoint")
	}
	want := BBox{MinLon: 1, MinLat: 1, MaxLon: 2, MaxLat: 2}
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	// a tile extending past a query box clips down to the overlap
	tile := BBox{MinLon: 17.9, MinLat: 59.2, MaxLon: 18.0, MaxLat: 59.35}
	query := BBox{MinLon: 17.95, MinLat: 59.30, MaxLon: 18.15, MaxLat: 59.40}
	clipped, ok := tile.Intersect(query)
	if !ok {
		t.Fatalf("tile overlapping the query reported disjoint")
	}
	if clipped.MinLon < query.MinLon || clipped.MaxLon > query.MaxLon ||
		clipped.MinLat < query.MinLat || clipped.MaxLat > query.MaxLat {
		t.Fatalf("clipped box %s escapes the query box %s", clipped, query)
	}

	if _, ok := a.Intersect(BBox{MinLon: 5, MinLat: 5, MaxLon: 6, MaxLat: 6}); ok {
		t.Fatalf("disjoint boxes reported overlapping")
	}
}

func TestBBoxString_ParamOrder(t *testing.T) {
	b := BBox{MinLon: -0.5, MinLat: 51.25, MaxLon: 0.25, MaxLat: 51.75}
	if got, want := b.String(), "-0.5,51.25,0.25,51.75"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
