// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package datasets fetches public speech corpora from OpenSLR into a local
directory layout ready for training pipelines.

# Features

  - Fixed fetch recipes: each dataset knows its archives and final layout
  - Sequential extract-then-rename: all LibriSpeech archives unpack to the
    same top-level folder, so splits never collide
  - Short-circuiting pipeline: any failed download, extraction, or rename
    aborts the run instead of cascading
  - Resume: complete archives are reused, partial .part files are continued
    with Range requests, populated splits are skipped
  - Progress events: real-time callbacks for CLI or log integration
  - Context cancellation: downloads, extraction, and retry sleeps all stop
    on ctx cancellation

# Quick Start

	ds, err := datasets.Lookup("LibriSpeech")
	if err != nil {
		log.Fatal(err)
	}

	cfg := datasets.DefaultSettings()
	cfg.DataDir = "./data"

	err = datasets.Fetch(context.Background(), ds, cfg, func(e datasets.ProgressEvent) {
		fmt.Printf("[%s] %s %s\n", e.Event, e.Split, e.Message)
	})
	if err != nil {
		log.Fatal(err)
	}

The resulting layout:

	data/
	  LibriSpeech/
	    LibriSpeech_train/...
	    LibriSpeech_dev/...
	    LibriSpeech_test/...

# Manifests

After a fetch, ScanManifest pairs every transcript line in the tree with its
.flac audio file, producing the (utterance id, audio path, text) triples a
speech-recognition front end consumes:

	m, err := datasets.ScanManifest("data/LibriSpeech")
	if err != nil {
		log.Fatal(err)
	}
	_ = m.WriteYAML(os.Stdout)
*/
package datasets
