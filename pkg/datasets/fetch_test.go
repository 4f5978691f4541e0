// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// makeTarGz builds an in-memory tar.gz whose file entries are given as
// path -> content.
func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		body := entries[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// libriArchives builds the three split archives, each sharing the
// "LibriSpeech" top-level folder like the real corpus.
func libriArchives(t *testing.T) map[string][]byte {
	t.Helper()
	return map[string][]byte{
		"/train-clean-100.tar.gz": makeTarGz(t, map[string]string{
			"LibriSpeech/train-clean-100/19/198/19-198.trans.txt": "19-198-0000 HELLO WORLD",
		}),
		"/dev-clean.tar.gz": makeTarGz(t, map[string]string{
			"LibriSpeech/dev-clean/84/121123/84-121123.trans.txt": "84-121123-0000 GOOD MORNING",
		}),
		"/test-clean.tar.gz": makeTarGz(t, map[string]string{
			"LibriSpeech/test-clean/61/70968/61-70968.trans.txt": "61-70968-0000 GOOD NIGHT",
		}),
	}
}

// newArchiveServer serves the given archives and counts requests.
func newArchiveServer(t *testing.T, archives map[string][]byte) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		body, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Unix(0, 0), bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testDataset(baseURL string) Dataset {
	return Dataset{
		Name:        "LibriSpeech",
		TopLevelDir: "LibriSpeech",
		Archives: []Archive{
			{Split: "train", Name: "train-clean-100.tar.gz", URL: baseURL + "/train-clean-100.tar.gz"},
			{Split: "dev", Name: "dev-clean.tar.gz", URL: baseURL + "/dev-clean.tar.gz"},
			{Split: "test", Name: "test-clean.tar.gz", URL: baseURL + "/test-clean.tar.gz"},
		},
	}
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		DataDir:        filepath.Join(t.TempDir(), "data"),
		Retries:        1,
		BackoffInitial: "1ms",
		BackoffMax:     "2ms",
	}
}

func collectEvents(events *[]ProgressEvent) ProgressFunc {
	return func(ev ProgressEvent) { *events = append(*events, ev) }
}

func TestFetch_Layout(t *testing.T) {
	srv, _ := newArchiveServer(t, libriArchives(t))
	ds := testDataset(srv.URL)
	cfg := testSettings(t)

	var events []ProgressEvent
	if err := Fetch(context.Background(), ds, cfg, collectEvents(&events)); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	for _, split := range []string{"train", "dev", "test"} {
		dir := filepath.Join(cfg.DataDir, "LibriSpeech", "LibriSpeech_"+split)
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			t.Errorf("split dir %s missing: %v", dir, err)
		}
	}

	// Archive contents landed inside the split dirs
	trans := filepath.Join(cfg.DataDir, "LibriSpeech", "LibriSpeech_train",
		"train-clean-100", "19", "198", "19-198.trans.txt")
	b, err := os.ReadFile(trans)
	if err != nil {
		t.Fatalf("transcript missing: %v", err)
	}
	if string(b) != "19-198-0000 HELLO WORLD" {
		t.Errorf("unexpected transcript content: %q", b)
	}

	// Archives are deleted after extraction by default
	work := filepath.Join(cfg.DataDir, ".staging")
	if _, err := os.Stat(filepath.Join(work, "train-clean-100.tar.gz")); !os.IsNotExist(err) {
		t.Error("expected archive to be removed after extraction")
	}

	// Data dir is prepared before any download starts
	prepIdx, dlIdx := -1, -1
	for i, ev := range events {
		if ev.Event == "prepare_dir" && prepIdx == -1 {
			prepIdx = i
		}
		if ev.Event == "archive_start" && dlIdx == -1 {
			dlIdx = i
		}
	}
	if prepIdx == -1 || dlIdx == -1 || prepIdx > dlIdx {
		t.Errorf("prepare_dir (%d) should precede archive_start (%d)", prepIdx, dlIdx)
	}

	last := events[len(events)-1]
	if last.Event != "done" || !strings.Contains(last.Message, "fetched 3") {
		t.Errorf("unexpected final event: %+v", last)
	}
}

func TestFetch_SplitsStayOrdered(t *testing.T) {
	srv, _ := newArchiveServer(t, libriArchives(t))
	ds := testDataset(srv.URL)
	cfg := testSettings(t)

	var events []ProgressEvent
	if err := Fetch(context.Background(), ds, cfg, collectEvents(&events)); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// split N's rename must complete before split N+1's extraction starts
	var order []string
	for _, ev := range events {
		if ev.Event == "extract_start" || ev.Event == "split_done" {
			order = append(order, ev.Event+":"+ev.Split)
		}
	}
	want := []string{
		"extract_start:train", "split_done:train",
		"extract_start:dev", "split_done:dev",
		"extract_start:test", "split_done:test",
	}
	if len(order) != len(want) {
		t.Fatalf("expected %d stage events, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("stage order mismatch at %d: got %v", i, order)
		}
	}
}

func TestFetch_RerunSkipsPopulatedSplits(t *testing.T) {
	srv, hits := newArchiveServer(t, libriArchives(t))
	ds := testDataset(srv.URL)
	cfg := testSettings(t)

	if err := Fetch(context.Background(), ds, cfg, nil); err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	atomic.StoreInt32(hits, 0)

	var events []ProgressEvent
	if err := Fetch(context.Background(), ds, cfg, collectEvents(&events)); err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}

	if n := atomic.LoadInt32(hits); n != 0 {
		t.Errorf("rerun should perform no network I/O, saw %d requests", n)
	}

	var skips int
	for _, ev := range events {
		if ev.Event == "split_skip" {
			skips++
		}
	}
	if skips != 3 {
		t.Errorf("expected 3 split_skip events, got %d", skips)
	}
	last := events[len(events)-1]
	if !strings.Contains(last.Message, "skipped 3") {
		t.Errorf("unexpected summary: %q", last.Message)
	}
}

func TestFetch_DataDirAlreadyExists(t *testing.T) {
	srv, _ := newArchiveServer(t, libriArchives(t))
	ds := testDataset(srv.URL)
	cfg := testSettings(t)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		t.Fatal(err)
	}

	var events []ProgressEvent
	if err := Fetch(context.Background(), ds, cfg, collectEvents(&events)); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if events[0].Event != "prepare_dir" || !strings.Contains(events[0].Message, "already exists") {
		t.Errorf("expected 'already exists' message, got %+v", events[0])
	}
}

func TestFetch_DownloadFailureAborts(t *testing.T) {
	archives := libriArchives(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if strings.Contains(r.URL.Path, "dev-clean") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Unix(0, 0),
			bytes.NewReader(archives[r.URL.Path]))
	}))
	defer srv.Close()

	ds := testDataset(srv.URL)
	cfg := testSettings(t)

	err := Fetch(context.Background(), ds, cfg, nil)
	if err == nil {
		t.Fatal("expected Fetch to fail")
	}
	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("expected DownloadError, got %T: %v", err, err)
	}

	root := filepath.Join(cfg.DataDir, "LibriSpeech")
	if _, err := os.Stat(filepath.Join(root, "LibriSpeech_train")); err != nil {
		t.Error("train split should have completed before the failure")
	}
	for _, split := range []string{"dev", "test"} {
		if _, err := os.Stat(filepath.Join(root, "LibriSpeech_"+split)); !os.IsNotExist(err) {
			t.Errorf("%s split should not exist after abort", split)
		}
	}
}

func TestFetch_ForceRefetches(t *testing.T) {
	srv, _ := newArchiveServer(t, libriArchives(t))
	ds := testDataset(srv.URL)
	cfg := testSettings(t)

	// Pre-populate the train split with a sentinel
	trainDir := filepath.Join(cfg.DataDir, "LibriSpeech", "LibriSpeech_train")
	if err := os.MkdirAll(trainDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sentinel := filepath.Join(trainDir, "stale.txt")
	if err := os.WriteFile(sentinel, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg.Force = true
	if err := Fetch(context.Background(), ds, cfg, nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if _, err := os.Stat(sentinel); !os.IsNotExist(err) {
		t.Error("force fetch should have replaced the stale split dir")
	}
	if _, err := os.Stat(filepath.Join(trainDir, "train-clean-100")); err != nil {
		t.Errorf("refetched content missing: %v", err)
	}
}

func TestFetch_ForceKeepsOldSplitOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ds := testDataset(srv.URL)
	cfg := testSettings(t)
	cfg.Force = true

	trainDir := filepath.Join(cfg.DataDir, "LibriSpeech", "LibriSpeech_train")
	if err := os.MkdirAll(trainDir, 0o755); err != nil {
		t.Fatal(err)
	}
	precious := filepath.Join(trainDir, "precious.txt")
	if err := os.WriteFile(precious, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Fetch(context.Background(), ds, cfg, nil); err == nil {
		t.Fatal("expected Fetch to fail against a 404 server")
	}

	// the old split must survive a failed force fetch
	b, err := os.ReadFile(precious)
	if err != nil {
		t.Fatalf("previous split data destroyed by failed force fetch: %v", err)
	}
	if string(b) != "keep me" {
		t.Errorf("unexpected content: %q", b)
	}
}

func TestDestExists(t *testing.T) {
	dir := t.TempDir()

	t.Run("absent", func(t *testing.T) {
		exists, err := destExists(filepath.Join(dir, "nope"))
		if err != nil || exists {
			t.Errorf("expected (false, nil), got (%v, %v)", exists, err)
		}
	})

	t.Run("present", func(t *testing.T) {
		sub := filepath.Join(dir, "split")
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		exists, err := destExists(sub)
		if err != nil || !exists {
			t.Errorf("expected (true, nil), got (%v, %v)", exists, err)
		}
	})

	t.Run("stat failure surfaces", func(t *testing.T) {
		file := filepath.Join(dir, "plain.txt")
		if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		// a path component that is a regular file fails with ENOTDIR,
		// which must not be read as absence
		if _, err := destExists(filepath.Join(file, "child")); err == nil {
			t.Error("expected error for a path through a regular file")
		}
	})
}

func TestFetch_KeepArchives(t *testing.T) {
	srv, _ := newArchiveServer(t, libriArchives(t))
	ds := testDataset(srv.URL)
	cfg := testSettings(t)
	cfg.KeepArchives = true

	if err := Fetch(context.Background(), ds, cfg, nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	for _, name := range []string{"train-clean-100.tar.gz", "dev-clean.tar.gz", "test-clean.tar.gz"} {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, ".staging", name)); err != nil {
			t.Errorf("archive %s should have been kept: %v", name, err)
		}
	}
}

func TestFetch_UnexpectedTopLevelDir(t *testing.T) {
	archives := map[string][]byte{
		"/train-clean-100.tar.gz": makeTarGz(t, map[string]string{
			"SomethingElse/file.txt": "nope",
		}),
	}
	srv, _ := newArchiveServer(t, archives)

	ds := Dataset{
		Name:        "LibriSpeech",
		TopLevelDir: "LibriSpeech",
		Archives: []Archive{
			{Split: "train", Name: "train-clean-100.tar.gz", URL: srv.URL + "/train-clean-100.tar.gz"},
		},
	}
	cfg := testSettings(t)

	err := Fetch(context.Background(), ds, cfg, nil)
	var ee *ExtractError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExtractError, got %T: %v", err, err)
	}
}

func TestFetch_CanceledContext(t *testing.T) {
	srv, hits := newArchiveServer(t, libriArchives(t))
	ds := testDataset(srv.URL)
	cfg := testSettings(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Fetch(ctx, ds, cfg, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 0 {
		t.Errorf("canceled fetch should not reach the network, saw %d requests", n)
	}
}

func TestFetch_EmptyDataset(t *testing.T) {
	cfg := testSettings(t)
	if err := Fetch(context.Background(), Dataset{Name: "x"}, cfg, nil); err == nil {
		t.Fatal("expected error for dataset without archives")
	}
}
