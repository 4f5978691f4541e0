// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// buildHTTPClient creates an HTTP client with sensible defaults.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// backoff implements exponential backoff with jitter.
type backoff struct {
	next   time.Duration
	max    time.Duration
	mult   float64
	jitter time.Duration
}

// newRetry creates a new backoff instance from settings.
func newRetry(cfg Settings) *backoff {
	init := 400 * time.Millisecond
	max := 10 * time.Second
	if d, err := time.ParseDuration(cfg.BackoffInitial); err == nil && cfg.BackoffInitial != "" {
		init = d
	}
	if d, err := time.ParseDuration(cfg.BackoffMax); err == nil && cfg.BackoffMax != "" {
		max = d
	}
	return &backoff{next: init, max: max, mult: 1.6, jitter: 120 * time.Millisecond}
}

// Next returns the next backoff duration.
func (b *backoff) Next() time.Duration {
	d := b.next + time.Duration(int64(b.jitter)*int64(time.Now().UnixNano()%3)/2)
	b.next = time.Duration(float64(b.next) * b.mult)
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// progressReader wraps an io.Reader and emits progress events during reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	archive    string
	split      string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, offset, total int64, archive, split string, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:     r,
		total:      total,
		downloaded: offset,
		archive:    archive,
		split:      split,
		emit:       emit,
		lastEmit:   time.Now(),
		interval:   200 * time.Millisecond, // at most 5 emissions per second
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		if time.Since(pr.lastEmit) >= pr.interval || err == io.EOF {
			pr.emit(ProgressEvent{
				Event:      "archive_progress",
				Archive:    pr.archive,
				Split:      pr.split,
				Downloaded: pr.downloaded,
				Total:      pr.total,
			})
			pr.lastEmit = time.Now()
		}
	}
	return n, err
}

// headContentLength asks the server for the archive size. Returns 0 when the
// server does not advertise one.
func headContentLength(ctx context.Context, httpc *http.Client, url string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}
	if clen := resp.Header.Get("Content-Length"); clen != "" {
		n, err := strconv.ParseInt(clen, 10, 64)
		if err == nil {
			return n, nil
		}
	}
	return 0, nil
}

// downloadArchive fetches ar.URL into dst. The transfer goes through
// dst + ".part" and is renamed only on success, so dst either holds a
// complete archive or does not exist.
//
// Resume relies only on the filesystem: a complete dst whose size matches
// the remote Content-Length is reused, and a leftover .part is continued
// with a Range request when the server honors it.
func downloadArchive(ctx context.Context, httpc *http.Client, ar Archive, dst string, cfg Settings, emit func(ProgressEvent)) error {
	remoteSize, headErr := headContentLength(ctx, httpc, ar.URL)

	if fi, err := os.Stat(dst); err == nil {
		if headErr == nil && remoteSize > 0 && fi.Size() == remoteSize {
			emit(ProgressEvent{Event: "archive_done", Archive: ar.Name, Split: ar.Split,
				Total: remoteSize, Message: "reuse (size match)"})
			return nil
		}
		// stale or unverifiable archive: start over
		if err := os.Remove(dst); err != nil {
			return &DownloadError{URL: ar.URL, Err: err}
		}
	}

	tmp := dst + ".part"
	retry := newRetry(cfg)
	var lastErr error

	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = downloadAttempt(ctx, httpc, ar, tmp, remoteSize, emit)
		if lastErr == nil {
			if err := os.Rename(tmp, dst); err != nil {
				return &DownloadError{URL: ar.URL, Err: err}
			}
			emit(ProgressEvent{Event: "archive_done", Archive: ar.Name, Split: ar.Split, Total: remoteSize})
			return nil
		}
		if he, ok := lastErr.(*HTTPError); ok && !he.IsRetryable() {
			break
		}

		if attempt < cfg.Retries {
			emit(ProgressEvent{Event: "retry", Archive: ar.Name, Split: ar.Split,
				Attempt: attempt + 1, Message: lastErr.Error()})
			if d := retry.Next(); !sleepCtx(ctx, d) {
				return ctx.Err()
			}
		}
	}
	return &DownloadError{URL: ar.URL, Err: lastErr}
}

// downloadAttempt performs a single GET, continuing an existing .part file
// when possible.
func downloadAttempt(ctx context.Context, httpc *http.Client, ar Archive, tmp string, total int64, emit func(ProgressEvent)) error {
	var offset int64
	if fi, err := os.Stat(tmp); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ar.URL, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		// keep appending
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// full body: the partial file is useless now
		offset = 0
	default:
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: ar.URL}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return err
	}

	if total == 0 && resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}
	emit(ProgressEvent{Event: "archive_start", Archive: ar.Name, Split: ar.Split,
		Downloaded: offset, Total: total})

	pr := newProgressReader(resp.Body, offset, total, ar.Name, ar.Split, emit)
	_, cerr := io.Copy(out, pr)
	if err := out.Close(); cerr == nil {
		cerr = err
	}
	return cerr
}
