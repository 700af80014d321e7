package report

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/image/font/sfnt"
)

// ValidateFont checks that ttf is a single TrueType font that can be
// embedded in exported PDFs.
func ValidateFont(ttf []byte) error {
	_, err := parseFont(ttf)
	return err
}

func parseFont(ttf []byte) (*sfnt.Font, error) {
	if bytes.HasPrefix(ttf, []byte("OTTO")) {
		return nil, errors.New("invalid PDF font: CFF-based OpenType is not supported, use a TrueType (.ttf) font")
	}
	f, err := sfnt.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("invalid PDF font: %w", err)
	}
	return f, nil
}

// fontCovers reports whether the font maps a rune to a real glyph
func fontCovers(f *sfnt.Font) func(rune) bool {
	var buf sfnt.Buffer
	return func(c rune) bool {
		idx, err := f.GlyphIndex(&buf, c)
		return err == nil && idx != 0
	}
}
