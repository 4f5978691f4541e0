// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import "time"

// Archive describes one downloadable split archive of a dataset.
type Archive struct {
	// Split is the partition this archive holds: "train", "dev" or "test".
	Split string

	// Name is the local file name the archive is saved under,
	// e.g. "train-clean-100.tar.gz".
	Name string

	// URL is the remote location of the archive.
	URL string
}

// Dataset is a fetch recipe: where the archives live and how the
// extracted tree is laid out.
type Dataset struct {
	// Name is the dataset identifier, e.g. "LibriSpeech". It doubles as
	// the directory name under Settings.DataDir.
	Name string

	// TopLevelDir is the directory every archive unpacks to. For
	// LibriSpeech all three archives share the same top-level folder,
	// which is why splits must be extracted and renamed one at a time.
	TopLevelDir string

	// Archives are fetched in order.
	Archives []Archive
}

// SplitDir returns the destination directory name for a split,
// e.g. "LibriSpeech_train".
func (d Dataset) SplitDir(split string) string {
	return d.Name + "_" + split
}

// Settings configures fetch behavior.
//
// All fields have defaults. At minimum you only need DataDir for where the
// dataset tree should be rooted.
//
//	cfg := datasets.DefaultSettings()
//	cfg.DataDir = "./data"
type Settings struct {
	// DataDir is the root of the produced layout:
	// <DataDir>/<dataset>/<dataset>_<split>/...
	// If empty, defaults to "data".
	DataDir string

	// WorkDir is the staging area for downloaded archives and in-progress
	// extractions. The reference behavior used the ambient working
	// directory; here staging is always explicit.
	// If empty, defaults to <DataDir>/.staging.
	WorkDir string

	// KeepArchives leaves the downloaded .tar.gz files in WorkDir after a
	// successful extraction instead of deleting them.
	KeepArchives bool

	// Force re-fetches splits whose destination directory already exists.
	// Without it, populated splits are skipped.
	Force bool

	// Retries is the maximum number of retry attempts per HTTP request.
	// If <= 0, defaults to 4.
	Retries int

	// BackoffInitial is the delay before the first retry ("400ms", "1s").
	// If empty, defaults to "400ms".
	BackoffInitial string

	// BackoffMax caps the exponentially growing retry delay.
	// If empty, defaults to "10s".
	BackoffMax string
}

// DefaultSettings returns Settings with defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		DataDir:        "data",
		Retries:        4,
		BackoffInitial: "400ms",
		BackoffMax:     "10s",
	}
}

// ProgressEvent is a progress update emitted during a fetch.
//
// The Event field identifies the stage:
//   - "prepare_dir": data directory checked/created
//   - "archive_start": download of an archive has started
//   - "archive_progress": periodic download progress
//   - "retry": a retry attempt is being made
//   - "archive_done": archive fully downloaded (or reused)
//   - "extract_start": extraction has started
//   - "extract_done": extraction complete
//   - "split_skip": split destination already populated, nothing done
//   - "split_done": split moved into its final directory
//   - "error": an error occurred
//   - "done": all splits processed
type ProgressEvent struct {
	// Time is when the event occurred (UTC).
	Time time.Time `json:"time"`

	// Event is the event type identifier.
	Event string `json:"event"`

	// Dataset is the dataset being fetched.
	Dataset string `json:"dataset,omitempty"`

	// Split is the split the event concerns, if any.
	Split string `json:"split,omitempty"`

	// Archive is the archive file name, if any.
	Archive string `json:"archive,omitempty"`

	// Downloaded is the cumulative bytes downloaded so far.
	Downloaded int64 `json:"downloaded,omitempty"`

	// Total is the expected size in bytes (0 when unknown).
	Total int64 `json:"total,omitempty"`

	// Attempt is the retry attempt number (1-based), set in "retry" events.
	Attempt int `json:"attempt,omitempty"`

	// Message carries additional context or error details.
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress events. It is invoked from the fetching
// goroutine only, but implementations should still be cheap.
type ProgressFunc func(ProgressEvent)
