// Package mapillary queries the Mapillary Graph API for image metadata
// within a bounding box, optionally partitioned into web-mercator tiles.
package mapillary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/streetscope/mapillary-meta/pkg/geo"
)

// DefaultEndpoint is the image metadata endpoint of the Graph API.
const DefaultEndpoint = "https://graph.mapillary.com/images"

// DefaultLimit is the per-request result cap. The API truncates silently
// beyond it, which is why large areas go through tiled queries.
const DefaultLimit = 5000

// DefaultFields is the metadata field set requested per image.
var DefaultFields = []string{
	"altitude",
	"atomic_scale",
	"camera_parameters",
	"camera_type",
	"captured_at",
	"compass_angle",
	"computed_altitude",
	"computed_compass_angle",
	"computed_geometry",
	"computed_rotation",
	"creator",
	"exif_orientation",
	"geometry",
	"height",
	"is_pano",
	"make",
	"model",
	"thumb_original_url",
	"merge_cc",
	"sequence",
	"width",
}

type Config struct {
	// Token authenticates every request. Required; resolve it once with
	// ResolveToken and inject it here rather than reading the environment
	// deeper in the call chain.
	Token    string
	Endpoint string
	Fields   []string
	Limit    int

	HTTPClient *http.Client
	Logger     zerolog.Logger
	// Registerer receives the client's request counters. Nil disables
	// metrics.
	Registerer prometheus.Registerer
}

// Client is a metadata fetcher bound to one token. It is safe for
// concurrent use.
type Client struct {
	endpoint *url.URL
	token    string
	fields   string
	limit    int
	http     *http.Client
	log      zerolog.Logger
	metrics  *clientMetrics
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("mapillary: empty API token")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		endpoint: u,
		token:    cfg.Token,
		fields:   strings.Join(fields, ","),
		limit:    limit,
		http:     hc,
		log:      cfg.Logger,
		metrics:  newClientMetrics(cfg.Registerer),
	}, nil
}

// Images fetches the raw metadata records for a single bounding box. One
// GET request; results past the limit are truncated by the API and logged
// as a warning.
func (c *Client) Images(ctx context.Context, b geo.BBox) ([]json.RawMessage, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return c.fetch(ctx, b, nil)
}

// ImagesInTile fetches the records for one tile of the standard pyramid.
func (c *Client) ImagesInTile(ctx context.Context, t maptile.Tile) ([]json.RawMessage, error) {
	return c.fetch(ctx, geo.TileBBox(t), &t)
}

// ImagesInTiles covers the geometry with tiles at the given zoom, issues
// one request per tile and merges the results, keeping each image id
// exactly once. Each tile extent is clipped to the geometry's bound, so
// boundary tiles never pull in records outside the queried area.
// Overlapping tile boundaries make duplicates expected, not exceptional.
// The first failing tile aborts with a *FetchError naming it.
func (c *Client) ImagesInTiles(ctx context.Context, g orb.Geometry, zoom int) ([]json.RawMessage, error) {
	tiles, err := geo.CoverPolygon(g, zoom)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Int("tiles", len(tiles)).Int("zoom", zoom).Msg("tiled fetch")

	queryBound := geo.FromBound(g.Bound())

	var out []json.RawMessage
	seen := make(map[string]struct{})
	dropped := 0

	for _, t := range tiles {
		b, ok := geo.TileBBox(t).Intersect(queryBound)
		if !ok {
			continue
		}
		records, err := c.fetch(ctx, b, &t)
		if err != nil {
			return nil, err
		}
		c.metrics.incTile()

		for _, rec := range records {
			key, err := recordKey(rec)
			if err != nil {
				c.log.Warn().Err(err).Msg("record with unusable identity, keeping as-is")
				out = append(out, rec)
				continue
			}
			if key != "" {
				if _, dup := seen[key]; dup {
					dropped++
					continue
				}
				seen[key] = struct{}{}
			}
			out = append(out, rec)
		}
	}

	if dropped > 0 {
		c.metrics.addDuplicates(dropped)
		c.log.Debug().Int("dropped", dropped).Msg("de-duplicated overlapping tile records")
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, b geo.BBox, tile *maptile.Tile) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("bbox", b.String())
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("fields", c.fields)
	params.Set("access_token", c.token)

	u := *c.endpoint
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.incRequest("transport_error")
		return nil, fmt.Errorf("fetch %s: %w", b, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.incRequest("http_error")
		return nil, &FetchError{
			Status: resp.StatusCode,
			BBox:   b,
			Tile:   tile,
			Msg:    readSnippet(resp.Body),
		}
	}

	var payload struct {
		Data  []json.RawMessage `json:"data"`
		Error *apiError         `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.metrics.incRequest("decode_error")
		return nil, fmt.Errorf("decode response for %s: %w", b, err)
	}
	if payload.Error != nil {
		c.metrics.incRequest("api_error")
		return nil, &FetchError{
			Status: resp.StatusCode,
			BBox:   b,
			Tile:   tile,
			Msg:    payload.Error.Message,
		}
	}

	c.metrics.incRequest("ok")
	if len(payload.Data) == c.limit {
		c.log.Warn().
			Str("bbox", b.String()).
			Int("limit", c.limit).
			Msg("query returned exactly the limit; results may be truncated, consider tiled querying")
	}
	return payload.Data, nil
}

type apiError struct {
	Message string `json:"message"`
}

func readSnippet(r io.Reader) string {
	buf, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(buf))
}
