package identify

import (
	"context"
	"io"
	"strings"
)

// Prompt is the shared prompt used by all identification backends.
const Prompt = `Identify the tree in this photo from its bark, leaves, needles or overall shape.
List up to three likely species, most likely first. Respond in plain text,
one species per line, format: common name | scientific name`

// Identifier suggests tree species for a photo.
type Identifier interface {
	Suggest(ctx context.Context, r io.Reader, mimeType string) ([]Candidate, error)
}

// Candidate is one species named by a backend. It is not guaranteed to be
// part of the reference list.
type Candidate struct {
	Common     string
	Scientific string
}

// ParseLine parses one "common | scientific" line. It returns nil for blank
// lines, preamble and lines without a separator.
func ParseLine(line string) *Candidate {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "Here") || strings.HasPrefix(line, "I see") || strings.HasPrefix(line, "Based on") {
		return nil
	}
	common, scientific, ok := strings.Cut(line, "|")
	if !ok {
		return nil
	}
	c := &Candidate{
		Common:     cleanName(common),
		Scientific: cleanName(scientific),
	}
	if c.Common == "" && c.Scientific == "" {
		return nil
	}
	return c
}

// cleanName strips list markers and markdown emphasis models like to add.
func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*0123456789. ")
	s = strings.Trim(s, "*_ ")
	return s
}

func ParseResponse(raw string) []Candidate {
	candidates := make([]Candidate, 0)
	for _, line := range strings.Split(raw, "\n") {
		if c := ParseLine(line); c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates
}
