// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"sort"
)

// openSLRBase is where OpenSLR hosts the LibriSpeech corpus (resource 12).
const openSLRBase = "http://www.openslr.org/resources/12"

// registry maps dataset identifiers to their fetch recipes. LibriSpeech is
// the only corpus defined; Lookup rejects anything else instead of silently
// doing nothing.
var registry = map[string]Dataset{
	"LibriSpeech": {
		Name:        "LibriSpeech",
		TopLevelDir: "LibriSpeech",
		Archives: []Archive{
			{Split: "train", Name: "train-clean-100.tar.gz", URL: openSLRBase + "/train-clean-100.tar.gz"},
			{Split: "dev", Name: "dev-clean.tar.gz", URL: openSLRBase + "/dev-clean.tar.gz"},
			{Split: "test", Name: "test-clean.tar.gz", URL: openSLRBase + "/test-clean.tar.gz"},
		},
	},
}

// Lookup resolves a dataset identifier to its recipe. The match is exact and
// case-sensitive, same as the reference behavior.
func Lookup(name string) (Dataset, error) {
	if name == "" {
		return Dataset{}, ErrMissingDataset
	}
	ds, ok := registry[name]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownDataset, name, Names())
	}
	return ds, nil
}

// Names returns the identifiers of all registered datasets, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
