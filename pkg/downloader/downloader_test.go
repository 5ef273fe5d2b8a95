package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/streetscope/mapillary-meta/pkg/features"
)

func collectionFor(t *testing.T, urls map[string]string) *features.Collection {
	t.Helper()
	recs := make([]json.RawMessage, 0, len(urls))
	for id, u := range urls {
		recs = append(recs, json.RawMessage(fmt.Sprintf(
			`{"id":%q,"geometry":{"type":"Point","coordinates":[1.0,2.0]},"thumb_original_url":%q}`, id, u)))
	}
	col := features.FromRecords(recs, zerolog.Nop())
	if col.Len() != len(urls) {
		t.Fatalf("fixture collection has %d rows, want %d", col.Len(), len(urls))
	}
	return col
}

func TestDownload_WritesFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes-" + r.URL.Path))
	}))
	defer srv.Close()

	dir := t.TempDir()
	col := collectionFor(t, map[string]string{
		"100": srv.URL + "/100",
		"200": srv.URL + "/200",
	})

	d := New(Config{Logger: zerolog.Nop()})
	sum, err := d.Download(context.Background(), col, dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if sum.Succeeded != 2 || sum.Failed != 0 || sum.Skipped != 0 {
		t.Fatalf("summary %+v", sum)
	}

	buf, err := os.ReadFile(filepath.Join(dir, "100.jpg"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(buf) != "jpeg-bytes-/100" {
		t.Fatalf("content %q", buf)
	}
}

func TestDownload_SkipsExistingWithoutFetching(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "12345.jpg"), []byte("already here"), 0o644); err != nil {
		t.Fatalf("pre-create: %v", err)
	}

	col := collectionFor(t, map[string]string{"12345": srv.URL + "/12345"})
	d := New(Config{Logger: zerolog.Nop()})
	sum, err := d.Download(context.Background(), col, dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if sum.Skipped != 1 || sum.Succeeded != 0 {
		t.Fatalf("summary %+v", sum)
	}
	if n := requests.Load(); n != 0 {
		t.Fatalf("expected no HTTP request for an existing file, got %d", n)
	}

	buf, _ := os.ReadFile(filepath.Join(dir, "12345.jpg"))
	if string(buf) != "already here" {
		t.Fatalf("existing file was overwritten: %q", buf)
	}
}

func TestDownload_FailureDoesNotAbortBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	col := collectionFor(t, map[string]string{
		"good": srv.URL + "/good",
		"bad":  srv.URL + "/bad",
	})

	d := New(Config{Logger: zerolog.Nop()})
	sum, err := d.Download(context.Background(), col, dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if len(sum.Errors) != 1 {
		t.Fatalf("errors %v", sum.Errors)
	}
	if _, err := os.Stat(filepath.Join(dir, "good.jpg")); err != nil {
		t.Fatalf("good file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.jpg")); !os.IsNotExist(err) {
		t.Fatalf("failed download must not leave a file behind")
	}
}

func TestDownload_EmptyURLCountsAsFailure(t *testing.T) {
	dir := t.TempDir()
	col := collectionFor(t, map[string]string{"55": ""})

	d := New(Config{Logger: zerolog.Nop()})
	sum, err := d.Download(context.Background(), col, dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary %+v", sum)
	}
}

func TestDownload_ConcurrentWorkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img" + r.URL.Path))
	}))
	defer srv.Close()

	urls := make(map[string]string, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("id%02d", i)
		urls[id] = srv.URL + "/" + id
	}

	dir := t.TempDir()
	col := collectionFor(t, urls)

	d := New(Config{Logger: zerolog.Nop(), Workers: 4})
	sum, err := d.Download(context.Background(), col, dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if sum.Succeeded != 20 {
		t.Fatalf("summary %+v", sum)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("wrote %d files, want 20", len(entries))
	}
}

func TestDownload_EmptyCollection(t *testing.T) {
	col := features.FromRecords(nil, zerolog.Nop())
	d := New(Config{Logger: zerolog.Nop()})
	sum, err := d.Download(context.Background(), col, t.TempDir())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if sum.Succeeded != 0 || sum.Failed != 0 || sum.Skipped != 0 {
		t.Fatalf("summary %+v", sum)
	}
}
