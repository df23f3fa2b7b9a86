package barcode

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatAztec
)

func (f Format) String() string {
	switch f {
	case FormatQR:
		return "qr"
	case FormatDataMatrix:
		return "datamatrix"
	case FormatAztec:
		return "aztec"
	default:
		return "unknown"
	}
}

// ParseFormat maps a config name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "qrcode", "qr_code":
		return FormatQR, nil
	case "datamatrix", "data_matrix":
		return FormatDataMatrix, nil
	case "aztec":
		return FormatAztec, nil
	default:
		return FormatUnknown, fmt.Errorf("unsupported barcode format %q", s)
	}
}

// ParseFormats parses a list of format names. An empty list yields QR only.
func ParseFormats(names []string) ([]Format, error) {
	if len(names) == 0 {
		return []Format{FormatQR}, nil
	}
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f, err := ParseFormat(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Options controls backend decoding behavior.
type Options struct {
	// Formats constrains the set of symbologies to search. Empty means QR.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// ROI optionally restricts decoding to a sub-rectangle of the image.
	// If zero-sized or out of bounds, backends should ignore it.
	ROI image.Rectangle
}

// Point is an integer point in image coordinates.
type Point struct {
	X int
	Y int
}

// Result represents a decoded barcode.
type Result struct {
	Type   Format
	Value  string
	Points []Point          // Finder pattern or corner points if available
	BBox   image.Rectangle // Bounding box derived from points
}

// Backend is a pluggable barcode decoder implementation. A frame without a
// symbol yields an empty slice and a nil error.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// NewBackend returns the default backend implementation.
func NewBackend() Backend { return &gozxingBackend{} }
