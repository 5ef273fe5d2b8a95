// Package downloader streams the images referenced by a feature
// collection to a local folder.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/streetscope/mapillary-meta/pkg/features"
)

// DefaultURLField is the property holding the image URL.
const DefaultURLField = "thumb_original_url"

type Config struct {
	HTTPClient *http.Client
	Logger     zerolog.Logger
	// Workers bounds concurrent downloads. <=1 downloads sequentially.
	Workers int
	// URLField overrides the property the image URL is read from.
	URLField string
	// ShowProgress renders a terminal progress bar.
	ShowProgress bool
	// Registerer receives the download result counter. Nil disables
	// metrics.
	Registerer prometheus.Registerer
}

// Summary reports the outcome of one batch. Individual failures never
// abort the batch; they are counted and listed here.
type Summary struct {
	Succeeded int
	Skipped   int
	Failed    int
	Errors    []string
}

type Downloader struct {
	http     *http.Client
	log      zerolog.Logger
	workers  int
	urlField string
	progress bool
	metrics  *downloadMetrics
}

func New(cfg Config) *Downloader {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	urlField := cfg.URLField
	if urlField == "" {
		urlField = DefaultURLField
	}
	return &Downloader{
		http:     hc,
		log:      cfg.Logger,
		workers:  workers,
		urlField: urlField,
		progress: cfg.ShowProgress,
		metrics:  newDownloadMetrics(cfg.Registerer),
	}
}

// Download streams every referenced image into dir, one file per image
// named <id>.jpg. The folder is created if absent. A file that already
// exists is skipped without touching the network; the claim is atomic per
// file, so concurrent workers never fetch the same id twice.
func (d *Downloader) Download(ctx context.Context, col *features.Collection, dir string) (Summary, error) {
	var sum Summary
	if col.Empty() {
		d.log.Warn().Msg("empty collection, nothing to download")
		return sum, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sum, fmt.Errorf("create output folder: %w", err)
	}

	feats := col.Features()
	var bar *progressbar.ProgressBar
	if d.progress {
		bar = progressbar.Default(int64(len(feats)), "downloading images")
	} else {
		bar = progressbar.DefaultSilent(int64(len(feats)))
	}

	jobs := make(chan *geojson.Feature)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < d.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				result, err := d.fetchOne(ctx, f, dir)
				mu.Lock()
				switch result {
				case resultOK:
					sum.Succeeded++
				case resultSkipped:
					sum.Skipped++
				default:
					sum.Failed++
					sum.Errors = append(sum.Errors, err.Error())
				}
				mu.Unlock()
				d.metrics.inc(result)
				_ = bar.Add(1)
			}
		}()
	}

feed:
	for _, f := range feats {
		select {
		case jobs <- f:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	d.log.Info().
		Int("succeeded", sum.Succeeded).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("download batch finished")
	return sum, nil
}

const (
	resultOK      = "ok"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

func (d *Downloader) fetchOne(ctx context.Context, f *geojson.Feature, dir string) (string, error) {
	id := featureID(f)
	if id == "" {
		err := fmt.Errorf("record without id, cannot name the output file")
		d.log.Warn().Err(err).Msg("skipping download")
		return resultFailed, err
	}

	rawURL, _ := f.Properties[d.urlField].(string)
	if rawURL == "" {
		err := fmt.Errorf("record %s: empty %q property", id, d.urlField)
		d.log.Warn().Err(err).Msg("skipping download")
		return resultFailed, err
	}

	path := filepath.Join(dir, id+".jpg")

	// O_EXCL both skips existing files and claims the path against
	// concurrent workers in one step.
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			d.log.Debug().Str("id", id).Msg("file exists, skipping")
			return resultSkipped, nil
		}
		return resultFailed, fmt.Errorf("record %s: create file: %w", id, err)
	}

	if err := d.stream(ctx, rawURL, out); err != nil {
		out.Close()
		os.Remove(path)
		err = fmt.Errorf("record %s: %w", id, err)
		d.log.Warn().Err(err).Msg("download failed")
		return resultFailed, err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return resultFailed, fmt.Errorf("record %s: close file: %w", id, err)
	}
	return resultOK, nil
}

func (d *Downloader) stream(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		return id
	case nil:
	default:
		return fmt.Sprintf("%v", id)
	}
	if s, ok := f.Properties["id"].(string); ok {
		return s
	}
	return ""
}

type downloadMetrics struct {
	downloads *prometheus.CounterVec
}

func newDownloadMetrics(reg prometheus.Registerer) *downloadMetrics {
	if reg == nil {
		return nil
	}
	m := &downloadMetrics{
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mapillary_image_downloads_total",
				Help: "Image downloads by result.",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.downloads)
	return m
}

func (m *downloadMetrics) inc(result string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result).Inc()
}
