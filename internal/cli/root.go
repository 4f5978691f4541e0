// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"librifetch/pkg/datasets"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut bool
	Quiet   bool
	Config  string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "librifetch",
		Short:         "Fetch speech corpora from OpenSLR into a local data layout",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Global flags
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (plain text lines, no progress bar)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")

	fetchCmd := newFetchCmd(ctx, ro)
	root.AddCommand(fetchCmd)
	root.AddCommand(newManifestCmd())
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())

	// Make fetch the default command when no subcommand is given
	root.Args = cobra.MaximumNArgs(1)
	root.PreRunE = fetchCmd.PreRunE
	root.RunE = fetchCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newFetchCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	cfg := &datasets.Settings{}

	cmd := &cobra.Command{
		Use:   "fetch DATASET",
		Short: "Download and unpack a dataset (currently: LibriSpeech)",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w (e.g. librifetch fetch LibriSpeech)", datasets.ErrMissingDataset)
			}
			ds, err := datasets.Lookup(args[0])
			if err != nil {
				return err
			}

			var progress datasets.ProgressFunc
			switch {
			case ro.JSONOut:
				progress = jsonProgress(os.Stdout)
			case ro.Quiet:
				progress = textProgress(os.Stdout)
			default:
				r := newBarRenderer(os.Stdout)
				defer r.Close()
				progress = r.Handler()
			}

			return datasets.Fetch(ctx, ds, *cfg, progress)
		},
	}

	cmd.Flags().StringVarP(&cfg.DataDir, "data-dir", "d", "data", "Root directory for the fetched layout")
	cmd.Flags().StringVar(&cfg.WorkDir, "work-dir", "", "Staging directory for downloads and extraction (default <data-dir>/.staging)")
	cmd.Flags().BoolVar(&cfg.KeepArchives, "keep-archives", false, "Keep downloaded .tar.gz files after extraction")
	cmd.Flags().BoolVar(&cfg.Force, "force", false, "Re-fetch splits whose destination directory already exists")
	cmd.Flags().IntVar(&cfg.Retries, "retries", 4, "Max retry attempts per HTTP request")
	cmd.Flags().StringVar(&cfg.BackoffInitial, "backoff-initial", "400ms", "Initial retry backoff duration")
	cmd.Flags().StringVar(&cfg.BackoffMax, "backoff-max", "10s", "Maximum retry backoff duration")

	return cmd
}

func newManifestCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "manifest [ROOT]",
		Short: "Scan a fetched dataset tree and emit a YAML manifest of utterances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "data/LibriSpeech"
			if len(args) > 0 {
				root = args[0]
			}

			m, err := datasets.ScanManifest(root)
			if err != nil {
				return err
			}

			w := io.Writer(os.Stdout)
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return m.WriteYAML(w)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the manifest to a file instead of stdout")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// textProgress returns a plain line-per-event progress handler.
func textProgress(w io.Writer) datasets.ProgressFunc {
	return func(ev datasets.ProgressEvent) {
		switch ev.Event {
		case "prepare_dir":
			fmt.Fprintln(w, ev.Message)
		case "archive_start":
			fmt.Fprintf(w, "downloading %s (%d bytes)\n", ev.Archive, ev.Total)
		case "retry":
			fmt.Fprintf(w, "retry %s (attempt %d): %s\n", ev.Archive, ev.Attempt, ev.Message)
		case "archive_done":
			if strings.HasPrefix(ev.Message, "reuse") {
				fmt.Fprintf(w, "reuse: %s (%s)\n", ev.Archive, ev.Message)
			} else {
				fmt.Fprintf(w, "downloaded: %s\n", ev.Archive)
			}
		case "extract_start":
			fmt.Fprintf(w, "extracting %s\n", ev.Archive)
		case "split_skip":
			fmt.Fprintf(w, "skip: %s %s\n", ev.Split, ev.Message)
		case "split_done":
			fmt.Fprintf(w, "done: %s_%s\n", ev.Dataset, ev.Split)
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case "done":
			fmt.Fprintln(w, ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) datasets.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return func(ev datasets.ProgressEvent) {
		_ = enc.Encode(ev)
	}
}
