package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/streetscope/mapillary-meta/internal/config"
	"github.com/streetscope/mapillary-meta/internal/httpclient"
	"github.com/streetscope/mapillary-meta/internal/logger"
	"github.com/streetscope/mapillary-meta/internal/metrics"
	"github.com/streetscope/mapillary-meta/pkg/downloader"
	"github.com/streetscope/mapillary-meta/pkg/features"
	"github.com/streetscope/mapillary-meta/pkg/geo"
	"github.com/streetscope/mapillary-meta/pkg/geocoder"
	"github.com/streetscope/mapillary-meta/pkg/mapillary"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	bboxFlag := flag.String("bbox", "", "query area as minLon,minLat,maxLon,maxLat")
	placeFlag := flag.String("place", "", "query area by place name (resolved to a polygon)")
	lonFlag := flag.Float64("lon", 0, "center longitude for a radius query")
	latFlag := flag.Float64("lat", 0, "center latitude for a radius query")
	radiusFlag := flag.Float64("radius", 0, "radius in meters around -lon/-lat")
	zoomFlag := flag.Int("zoom", 0, "tile zoom for tiled queries (default from MAPILLARY_ZOOM)")
	tiledFlag := flag.Bool("tiled", false, "partition a bbox query into tiles")
	outFlag := flag.String("out", "", "write the results to this GeoJSON file")
	downloadFlag := flag.String("download", "", "download referenced images into this folder")
	workersFlag := flag.Int("workers", 0, "concurrent downloads (default from DOWNLOAD_WORKERS)")
	limitFlag := flag.Int("limit", 0, "per-request result limit (default from MAPILLARY_LIMIT)")
	fieldsFlag := flag.String("fields", "", "comma-separated metadata fields to request")
	tokenFileFlag := flag.String("token-file", "", "file holding the API token")
	metricsFlag := flag.String("metrics-addr", "", "serve /metrics on this address while running")
	consoleFlag := flag.Bool("console", false, "human-readable log output")
	flag.Parse()

	// a .env next to the binary is a convenience, not a requirement
	_ = godotenv.Load()

	cfg := config.FromEnv()
	if *zoomFlag > 0 {
		cfg.Zoom = *zoomFlag
	}
	if *limitFlag > 0 {
		cfg.Limit = *limitFlag
	}
	if *fieldsFlag != "" {
		cfg.Fields = strings.Split(*fieldsFlag, ",")
	}
	if *tokenFileFlag != "" {
		cfg.TokenFile = *tokenFileFlag
	}
	if *workersFlag > 0 {
		cfg.DownloadWorkers = *workersFlag
	}
	if *metricsFlag != "" {
		cfg.MetricsAddr = *metricsFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   *consoleFlag,
		Component: "mapillary-meta",
	}, os.Stderr)

	token, err := mapillary.ResolveToken(cfg.TokenFile)
	if err != nil {
		zl.Error().Err(err).Msg("token resolution failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := metrics.Init(metrics.BuildInfo{Version: Version})
	if cfg.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", provider.Handler())
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			zl.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener up")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	outbound := httpclient.NewOutbound(cfg.HTTPTimeout)

	client, err := mapillary.NewClient(mapillary.Config{
		Token:      token,
		Endpoint:   cfg.Endpoint,
		Fields:     cfg.Fields,
		Limit:      cfg.Limit,
		HTTPClient: outbound,
		Logger:     zl,
		Registerer: provider.Registerer(),
	})
	if err != nil {
		zl.Error().Err(err).Msg("client setup failed")
		return 1
	}

	records, filterGeom, err := fetchArea(ctx, zl, cfg, outbound, client,
		*placeFlag, *bboxFlag, *lonFlag, *latFlag, *radiusFlag, *tiledFlag)
	if err != nil {
		zl.Error().Err(err).Msg("fetch failed")
		return 1
	}

	col := features.FromRecords(records, zl)
	if filterGeom != nil {
		col = col.FilterWithin(filterGeom)
	}
	zl.Info().
		Int("images", col.Len()).
		Int("skipped_records", col.Skipped()).
		Msg("metadata fetched")

	if *outFlag != "" {
		if err := col.SaveGeoJSON(*outFlag); err != nil {
			zl.Error().Err(err).Str("path", *outFlag).Msg("export failed")
			return 1
		}
		zl.Info().Str("path", *outFlag).Msg("GeoJSON written")
	} else if *downloadFlag == "" {
		if err := col.WriteGeoJSON(os.Stdout); err != nil {
			zl.Error().Err(err).Msg("write to stdout failed")
			return 1
		}
		fmt.Println()
	}

	if *downloadFlag != "" {
		dl := downloader.New(downloader.Config{
			HTTPClient:   outbound,
			Logger:       zl,
			Workers:      cfg.DownloadWorkers,
			ShowProgress: true,
			Registerer:   provider.Registerer(),
		})
		sum, err := dl.Download(ctx, col, *downloadFlag)
		if err != nil {
			zl.Error().Err(err).Msg("download aborted")
			return 1
		}
		if sum.Failed > 0 {
			zl.Warn().Int("failed", sum.Failed).Msg("some downloads failed")
		}
	}
	return 0
}

// fetchArea resolves the requested area from the flags and fetches its
// records. The returned geometry, when non-nil, further filters the rows
// (a place polygon is finer than its covering tiles).
func fetchArea(ctx context.Context, zl zerolog.Logger, cfg config.Config, outbound *http.Client,
	client *mapillary.Client, place, bboxStr string, lon, lat, radius float64, tiled bool,
) ([]json.RawMessage, orb.Geometry, error) {
	switch {
	case place != "":
		gc, err := geocoder.New(geocoder.Config{
			Endpoint:   cfg.GeocoderURL,
			HTTPClient: outbound,
			Logger:     zl,
			UserAgent:  "mapillary-meta/" + Version,
		})
		if err != nil {
			return nil, nil, err
		}
		poly, err := gc.Polygon(ctx, place)
		if err != nil {
			return nil, nil, err
		}
		zl.Info().Str("place", place).Int("zoom", cfg.Zoom).Msg("querying place polygon")
		records, err := client.ImagesInTiles(ctx, poly, cfg.Zoom)
		return records, poly, err

	case bboxStr != "":
		b, err := geo.ParseBBox(bboxStr)
		if err != nil {
			return nil, nil, err
		}
		if tiled {
			records, err := client.ImagesInTiles(ctx, b.Bound(), cfg.Zoom)
			return records, nil, err
		}
		records, err := client.Images(ctx, b)
		return records, nil, err

	case radius > 0:
		b, err := geo.BoundingBoxAround(lon, lat, radius)
		if err != nil {
			return nil, nil, err
		}
		if tiled {
			records, err := client.ImagesInTiles(ctx, b.Bound(), cfg.Zoom)
			return records, nil, err
		}
		records, err := client.Images(ctx, b)
		return records, nil, err

	default:
		return nil, nil, errors.New("specify an area: -bbox, -place, or -lon/-lat/-radius")
	}
}
