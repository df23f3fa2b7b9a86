package utils

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// LoadImage opens and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		return nil, &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	f, err := os.Open(path) //nolint:gosec // G304: frame directories are operator supplied
	if err != nil {
		return nil, &ImageProcessingError{Operation: "load", Err: err}
	}
	defer func() { _ = f.Close() }()

	return DecodeImage(f)
}

// DecodeImage decodes a JPEG, PNG or BMP stream.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, &ImageProcessingError{Operation: "decode", Err: err}
	}
	return img, nil
}

// ListImages returns the supported image files in dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ImageProcessingError{Operation: "list", Err: err}
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsSupportedImage(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
