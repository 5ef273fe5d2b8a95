// Package geocoder resolves place names to boundary polygons through the
// Nominatim search API.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

// DefaultEndpoint is the public Nominatim search endpoint.
const DefaultEndpoint = "https://nominatim.openstreetmap.org/search"

const defaultCacheSize = 128

// NotFoundError reports that no polygon boundary exists for a place name.
type NotFoundError struct {
	Place string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("geocoder: no polygon found for place %q", e.Place)
}

type Config struct {
	Endpoint   string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	// CacheSize bounds the in-process place -> polygon memo.
	CacheSize int
	// UserAgent identifies the client; Nominatim's usage policy requires
	// one.
	UserAgent string
}

type Client struct {
	endpoint string
	http     *http.Client
	log      zerolog.Logger
	cache    *lru.Cache[string, orb.Polygon]
	ua       string
}

func New(cfg Config) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, orb.Polygon](size)
	if err != nil {
		return nil, fmt.Errorf("geocoder cache: %w", err)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "mapillary-meta/1.0"
	}
	return &Client{
		endpoint: endpoint,
		http:     hc,
		log:      cfg.Logger,
		cache:    cache,
		ua:       ua,
	}, nil
}

// Polygon resolves a place name to its boundary polygon. Results are
// ordered by importance and non-polygon matches are discarded; no match
// left yields a *NotFoundError. Lookups are memoized per process.
func (c *Client) Polygon(ctx context.Context, place string) (orb.Polygon, error) {
	key := strings.ToLower(strings.TrimSpace(place))
	if key == "" {
		return nil, fmt.Errorf("geocoder: empty place name")
	}
	if poly, ok := c.cache.Get(key); ok {
		c.log.Debug().Str("place", place).Msg("geocoder cache hit")
		return poly, nil
	}

	params := url.Values{}
	params.Set("q", place)
	params.Set("format", "json")
	params.Set("polygon_geojson", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocoder: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoder: fetch %q: %w", place, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder: fetch %q: status %d", place, resp.StatusCode)
	}

	var results []struct {
		Importance float64         `json:"importance"`
		GeoJSON    json.RawMessage `json:"geojson"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("geocoder: decode response: %w", err)
	}
	if len(results) == 0 {
		return nil, &NotFoundError{Place: place}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Importance > results[j].Importance
	})

	for _, r := range results {
		if len(r.GeoJSON) == 0 {
			continue
		}
		g, err := geojson.UnmarshalGeometry(r.GeoJSON)
		if err != nil {
			continue
		}
		if poly, ok := g.Geometry().(orb.Polygon); ok {
			c.cache.Add(key, poly)
			return poly, nil
		}
	}
	return nil, &NotFoundError{Place: place}
}
