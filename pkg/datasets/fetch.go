// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Fetch downloads and unpacks every archive of a dataset into the layout
//
//	<DataDir>/<dataset>/<dataset>_<split>/...
//
// Archives are processed strictly in order: each one unpacks to the same
// top-level folder name, so an extraction must be renamed away before the
// next one starts. Any failing step aborts the run.
//
// Splits whose destination directory already exists are skipped unless
// cfg.Force is set, which makes a rerun against a populated tree a no-op
// (no network I/O).
//
// Cancellation: downloads, extraction, and retry sleeps are all tied to ctx.
func Fetch(ctx context.Context, ds Dataset, cfg Settings, progress ProgressFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ds.Name == "" || len(ds.Archives) == 0 {
		return fmt.Errorf("dataset %q has no archives to fetch", ds.Name)
	}

	// Apply defaults
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.DataDir, ".staging")
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 4
	}

	emit := func(ev ProgressEvent) {
		if progress != nil {
			if ev.Time.IsZero() {
				ev.Time = time.Now().UTC()
			}
			if ev.Dataset == "" {
				ev.Dataset = ds.Name
			}
			progress(ev)
		}
	}

	if err := prepareDataDir(cfg.DataDir, emit); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return err
	}
	root := filepath.Join(cfg.DataDir, ds.Name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}

	httpc := buildHTTPClient()
	var fetched, skipped int

	for _, ar := range ds.Archives {
		if err := ctx.Err(); err != nil {
			return err
		}

		dest := filepath.Join(root, ds.SplitDir(ar.Split))
		exists, err := destExists(dest)
		if err != nil {
			return err
		}
		if exists && !cfg.Force {
			emit(ProgressEvent{Event: "split_skip", Split: ar.Split,
				Message: "skip (already populated)"})
			skipped++
			continue
		}

		archivePath := filepath.Join(cfg.WorkDir, ar.Name)
		if err := downloadArchive(ctx, httpc, ar, archivePath, cfg, emit); err != nil {
			emit(ProgressEvent{Event: "error", Split: ar.Split, Message: err.Error()})
			return err
		}

		if err := unpackSplit(ctx, ds, ar, archivePath, dest, cfg, emit); err != nil {
			emit(ProgressEvent{Event: "error", Split: ar.Split, Message: err.Error()})
			return err
		}
		fetched++
	}

	emit(ProgressEvent{
		Event:   "done",
		Message: fmt.Sprintf("fetch complete (fetched %d, skipped %d)", fetched, skipped),
	})
	return nil
}

// destExists reports whether a split destination is present. Stat failures
// other than not-exist (permissions, a file where a directory is expected)
// surface instead of being treated as absence.
func destExists(dest string) (bool, error) {
	_, err := os.Stat(dest)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// prepareDataDir ensures the data root exists. An existing directory is left
// untouched so reruns are safe.
func prepareDataDir(dir string, emit func(ProgressEvent)) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		emit(ProgressEvent{Event: "prepare_dir", Message: dir + " already exists"})
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		emit(ProgressEvent{Event: "prepare_dir", Message: "created " + dir})
		return nil
	default:
		return err
	}
}

// unpackSplit extracts one archive into a staging dir and renames the shared
// top-level folder to the split's destination.
func unpackSplit(ctx context.Context, ds Dataset, ar Archive, archivePath, dest string, cfg Settings, emit func(ProgressEvent)) error {
	stage := filepath.Join(cfg.WorkDir, "extract-"+ar.Split)
	if err := os.RemoveAll(stage); err != nil {
		return err
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return err
	}

	emit(ProgressEvent{Event: "extract_start", Archive: ar.Name, Split: ar.Split})
	if err := extractTarGz(ctx, archivePath, stage); err != nil {
		return &ExtractError{Archive: ar.Name, Err: err}
	}
	emit(ProgressEvent{Event: "extract_done", Archive: ar.Name, Split: ar.Split})

	src := filepath.Join(stage, ds.TopLevelDir)
	if fi, err := os.Stat(src); err != nil || !fi.IsDir() {
		return &ExtractError{Archive: ar.Name,
			Err: fmt.Errorf("expected top-level directory %q not found", ds.TopLevelDir)}
	}

	// The old split is replaced only once the new tree is fully staged, so
	// a failed download or extraction never destroys a previous run's data.
	exists, err := destExists(dest)
	if err != nil {
		return err
	}
	if exists {
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dest); err != nil {
		return err
	}
	if err := os.RemoveAll(stage); err != nil {
		return err
	}
	if !cfg.KeepArchives {
		if err := os.Remove(archivePath); err != nil {
			return err
		}
	}

	emit(ProgressEvent{Event: "split_done", Split: ar.Split, Archive: ar.Name})
	return nil
}
