// Package thumbnail generates and disk-caches downsized JPEG previews for
// image entries shown in directory listings.
package thumbnail

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	// decoders registered for their side effect on image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrNotAnImage is returned when the source file cannot be decoded by any
// registered image format.
var ErrNotAnImage = errors.New("thumbnail: not a decodable image")

const maxDimension = 256
const jpegQuality = 82

// Cache generates thumbnails on demand and persists them under dir, keyed
// by source path plus modification time so a stale thumbnail is never
// served after the source file changes.
type Cache struct {
	dir string
}

// NewCache creates (if needed) dir and returns a Cache rooted there.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("thumbnail: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Get returns the JPEG bytes of a thumbnail for srcAbs, generating and
// caching it on first request. relKey should be the entry's path relative
// to the jail root, used only to derive a stable cache filename.
func (c *Cache) Get(srcAbs, relKey string) ([]byte, error) {
	info, err := os.Stat(srcAbs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotAnImage
	}

	cachePath := c.cachePath(relKey, info.ModTime().Unix())
	if b, err := os.ReadFile(cachePath); err == nil {
		return b, nil
	}

	b, err := generate(srcAbs)
	if err != nil {
		return nil, err
	}
	_ = os.WriteFile(cachePath, b, 0o644)
	return b, nil
}

func (c *Cache) cachePath(relKey string, mtimeUnix int64) string {
	sum := sha1.Sum([]byte(relKey))
	name := hex.EncodeToString(sum[:]) + fmt.Sprintf("-%d.jpg", mtimeUnix)
	return filepath.Join(c.dir, name)
}

// generate decodes, downsamples to at most maxDimension on the long edge
// with Catmull-Rom resampling, and re-encodes as JPEG.
func generate(srcAbs string) ([]byte, error) {
	f, err := os.Open(srcAbs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, ErrNotAnImage
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrNotAnImage
	}

	nw, nh := scaledDimensions(w, h, maxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func scaledDimensions(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w > h {
		return max, maxInt(1, int(float64(h)*float64(max)/float64(w)))
	}
	return maxInt(1, int(float64(w)*float64(max)/float64(h))), max
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
