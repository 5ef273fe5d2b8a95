// Package config reads the CLI's settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/streetscope/mapillary-meta/pkg/mapillary"
)

type Config struct {
	Endpoint        string
	GeocoderURL     string
	TokenFile       string
	Zoom            int
	Limit           int
	Fields          []string
	LogLevel        string
	HTTPTimeout     time.Duration
	DownloadWorkers int
	MetricsAddr     string
}

func FromEnv() Config {
	zoom := getint("MAPILLARY_ZOOM", 18)
	if zoom < 0 || zoom > 22 {
		zoom = 18
	}

	return Config{
		Endpoint:        getenv("MAPILLARY_ENDPOINT", mapillary.DefaultEndpoint),
		GeocoderURL:     getenv("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		TokenFile:       getenv("MAPILLARY_TOKEN_FILE", mapillary.DefaultTokenFile),
		Zoom:            zoom,
		Limit:           getint("MAPILLARY_LIMIT", mapillary.DefaultLimit),
		Fields:          getlist("MAPILLARY_FIELDS", mapillary.DefaultFields),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		HTTPTimeout:     getduration("HTTP_TIMEOUT", 30*time.Second),
		DownloadWorkers: getint("DOWNLOAD_WORKERS", 1),
		MetricsAddr:     getenv("METRICS_ADDR", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a,b,c" into a list, falling back to def when unset
func getlist(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
