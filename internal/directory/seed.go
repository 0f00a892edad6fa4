package directory

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/toolsdir-web/internal/xerrors"
)

// seedFile is the on-disk layout:
//
//	tools:
//	  - slug: chatgpt
//	    name: ChatGPT
//	    url: https://chat.openai.com
//	    category: assistants
//	    tags: [chat, writing]
//	    featured: true
type seedFile struct {
	Tools []Tool `yaml:"tools"`
}

//go:embed seed/default.yaml
var defaultSeed []byte

// DefaultSeed is the starter catalogue compiled into the binary.
func DefaultSeed() []byte { return defaultSeed }

// LoadSeed inserts the tools listed in the YAML file at path when the store
// is empty, and returns how many were inserted. A populated store is left
// untouched so admin edits survive restarts.
func LoadSeed(ctx context.Context, s *Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, xerrors.Wrap(err, "read seed file")
	}
	return LoadSeedData(ctx, s, raw)
}

// LoadSeedData is LoadSeed for an in-memory document.
func LoadSeedData(ctx context.Context, s *Store, raw []byte) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	tools, err := ParseSeed(raw)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, t := range tools {
		if _, err := s.Create(ctx, t); err != nil {
			return inserted, xerrors.Wrapf(err, "seed tool %q", t.Slug)
		}
		inserted++
	}
	return inserted, nil
}

// ParseSeed decodes and validates a seed document. Unknown keys are errors
// so typos do not silently drop data.
func ParseSeed(raw []byte) ([]Tool, error) {
	var doc seedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(err, "decode seed file")
	}

	seen := make(map[string]bool, len(doc.Tools))
	for i := range doc.Tools {
		t := &doc.Tools[i]
		t.Normalize()
		if err := Validate(*t); err != nil {
			return nil, xerrors.Wrapf(err, "seed entry %d", i)
		}
		if seen[t.Slug] {
			return nil, xerrors.Newf("seed entry %d: duplicate slug %q", i, t.Slug)
		}
		seen[t.Slug] = true
	}
	return doc.Tools, nil
}
