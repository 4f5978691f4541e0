// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"

	"librifetch/pkg/datasets"
)

var (
	infoColor  = color.New(color.FgGreen).SprintFunc()
	warnColor  = color.New(color.FgYellow).SprintFunc()
	errorColor = color.New(color.FgRed).SprintFunc()
)

// barRenderer renders one progress bar per archive, with colored status
// lines for the surrounding pipeline stages. Events arrive from a single
// goroutine, so no locking is needed.
type barRenderer struct {
	w   io.Writer
	bar *pb.ProgressBar
}

func newBarRenderer(w io.Writer) *barRenderer {
	return &barRenderer{w: w}
}

// Handler returns the ProgressFunc feeding this renderer.
func (r *barRenderer) Handler() datasets.ProgressFunc {
	return func(ev datasets.ProgressEvent) {
		switch ev.Event {
		case "prepare_dir":
			fmt.Fprintln(r.w, infoColor(ev.Message))

		case "archive_start":
			r.finishBar()
			bar := pb.Full.Start64(ev.Total)
			bar.SetWriter(r.w)
			bar.Set(pb.Bytes, true)
			bar.Set("prefix", ev.Archive+" ")
			bar.SetCurrent(ev.Downloaded)
			r.bar = bar

		case "archive_progress":
			if r.bar != nil {
				if ev.Total > 0 {
					r.bar.SetTotal(ev.Total)
				}
				r.bar.SetCurrent(ev.Downloaded)
			}

		case "retry":
			fmt.Fprintln(r.w, warnColor(fmt.Sprintf("retry %s (attempt %d): %s", ev.Archive, ev.Attempt, ev.Message)))

		case "archive_done":
			r.finishBar()
			if strings.HasPrefix(ev.Message, "reuse") {
				fmt.Fprintln(r.w, infoColor("reuse: "+ev.Archive+" ("+ev.Message+")"))
			}

		case "extract_start":
			fmt.Fprintf(r.w, "extracting %s ...\n", ev.Archive)

		case "split_skip":
			fmt.Fprintln(r.w, warnColor("skip: "+ev.Split+" "+ev.Message))

		case "split_done":
			fmt.Fprintln(r.w, infoColor(fmt.Sprintf("done: %s_%s", ev.Dataset, ev.Split)))

		case "error":
			r.finishBar()
			fmt.Fprintln(r.w, errorColor("error: "+ev.Message))

		case "done":
			r.finishBar()
			fmt.Fprintln(r.w, infoColor(ev.Message))
		}
	}
}

// Close finishes any in-flight bar.
func (r *barRenderer) Close() {
	r.finishBar()
}

func (r *barRenderer) finishBar() {
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}
