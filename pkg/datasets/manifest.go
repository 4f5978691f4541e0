// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Utterance pairs one transcript line with its audio file.
type Utterance struct {
	ID    string `yaml:"id" json:"id"`
	Split string `yaml:"split,omitempty" json:"split,omitempty"`
	Audio string `yaml:"audio" json:"audio"`
	Text  string `yaml:"text" json:"text"`
}

// Manifest is the result of scanning a fetched dataset tree.
type Manifest struct {
	Root       string      `yaml:"root" json:"root"`
	Utterances []Utterance `yaml:"utterances" json:"utterances"`

	// MissingAudio counts transcript lines whose audio file was absent.
	MissingAudio int `yaml:"missing_audio,omitempty" json:"missing_audio,omitempty"`
}

// transSuffix marks LibriSpeech per-chapter transcript files. Each line is
// "<utterance-id> <text>", and the audio lives next to the transcript as
// <utterance-id>.flac.
const transSuffix = ".trans.txt"

// ScanManifest walks a fetched dataset tree and pairs every transcript line
// with its .flac file. Lines whose audio file does not exist are counted in
// MissingAudio but not included.
func ScanManifest(root string) (*Manifest, error) {
	m := &Manifest{Root: root}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, transSuffix) {
			return nil
		}
		return m.parseTransFile(path, splitLabel(root, path))
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// splitLabel derives the split name from the top-level directory under root,
// e.g. "LibriSpeech_dev/..." yields "dev". Transcript files that do not sit
// under a "<dataset>_<split>" directory get an empty label.
func splitLabel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	top := rel
	if i := strings.IndexByte(filepath.ToSlash(rel), '/'); i >= 0 {
		top = rel[:i]
	}
	if i := strings.LastIndexByte(top, '_'); i >= 0 {
		return top[i+1:]
	}
	return ""
}

func (m *Manifest) parseTransFile(path, split string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dir := filepath.Dir(path)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		audio := filepath.Join(dir, parts[0]+".flac")
		if _, err := os.Stat(audio); err != nil {
			m.MissingAudio++
			continue
		}
		m.Utterances = append(m.Utterances, Utterance{
			ID:    parts[0],
			Split: split,
			Audio: audio,
			Text:  parts[1],
		})
	}
	return sc.Err()
}

// WriteYAML writes the manifest as YAML.
func (m *Manifest) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}
