// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"errors"
	"fmt"
)

// Common errors returned by the library.
var (
	// ErrUnknownDataset is returned by Lookup for a name with no recipe.
	// The reference behavior was a silent no-op; here it is an error.
	ErrUnknownDataset = errors.New("unknown dataset")

	// ErrMissingDataset is returned when no dataset name is given.
	ErrMissingDataset = errors.New("missing dataset name")
)

// DownloadError wraps an error with the URL that failed.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ExtractError wraps an error with the archive being unpacked.
type ExtractError struct {
	Archive string
	Err     error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// HTTPError represents a non-2xx response from the archive host.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s: %s", e.Status, e.URL)
}

// IsRetryable returns true if the request might succeed on retry.
func (e *HTTPError) IsRetryable() bool {
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
