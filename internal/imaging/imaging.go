// Package imaging prepares uploaded images for storage: a display version
// bounded to 800x800 and a 200x200 thumbnail.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	dimg "github.com/disintegration/imaging"
)

const (
	DisplayMaxSize = 800
	ThumbnailSize  = 200
	JPEGQuality    = 80

	// DefaultMaxPixels caps width*height of an image accepted for decoding.
	DefaultMaxPixels = 40_000_000
)

// ErrTooLarge is returned for images whose declared size exceeds the pixel
// budget.  Nothing is decoded in that case.
var ErrTooLarge = errors.New("image dimensions exceed the pixel budget")

// Image is an encoded image with its MIME type.
type Image struct {
	Data        []byte
	ContentType string
}

// Result of processing.  Thumbnail is nil when none was produced.
type Result struct {
	Display   Image
	Thumbnail *Image
}

// Processor transforms an upload before it is stored.
type Processor interface {
	Process(ctx context.Context, img Image) (Result, error)
}

// Noop keeps the original bytes and produces no thumbnail.
type Noop struct{}

func (Noop) Process(_ context.Context, img Image) (Result, error) {
	return Result{Display: img}, nil
}

// Resizer decodes the upload, fits it into DisplayMaxSize keeping the aspect
// ratio and crops a centred ThumbnailSize square.  Both are JPEG encoded.
// Images larger than MaxPixels are rejected from their header alone.
type Resizer struct {
	Quality   int
	MaxPixels int
}

func NewResizer() *Resizer { return &Resizer{Quality: JPEGQuality, MaxPixels: DefaultMaxPixels} }

func (r *Resizer) Process(ctx context.Context, img Image) (Result, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return Result{}, fmt.Errorf("decode image header: %w", err)
	}
	limit := r.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(limit) {
		return Result{}, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	display, err := r.encode(dimg.Fit(src, DisplayMaxSize, DisplayMaxSize, dimg.Lanczos))
	if err != nil {
		return Result{}, err
	}
	thumb, err := r.encode(dimg.Fill(src, ThumbnailSize, ThumbnailSize, dimg.Center, dimg.Lanczos))
	if err != nil {
		return Result{}, err
	}
	return Result{Display: display, Thumbnail: &thumb}, nil
}

func (r *Resizer) encode(img image.Image) (Image, error) {
	q := r.Quality
	if q <= 0 {
		q = JPEGQuality
	}
	var buf bytes.Buffer
	if err := dimg.Encode(&buf, img, dimg.JPEG, dimg.JPEGQuality(q)); err != nil {
		return Image{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Image{Data: buf.Bytes(), ContentType: "image/jpeg"}, nil
}

// New returns a Resizer when enabled, Noop otherwise.
func New(enabled bool) Processor {
	if enabled {
		return NewResizer()
	}
	return Noop{}
}
