package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

var (
	ErrTooLarge     = errors.New("file too large")
	ErrInvalidImage = errors.New("invalid image")
	ErrUnsupported  = errors.New("unsupported image type")
)

// ImageOptions bounds what Normalize accepts and produces.
type ImageOptions struct {
	MaxBytes int64
	// MaxDim caps the longer side of the output.
	MaxDim  int
	Quality int
	// Background fills transparent pixels, since JPEG has no alpha.
	Background color.RGBA
}

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// AttachmentImageOptions is used for images sent in messages.
func AttachmentImageOptions() ImageOptions {
	return ImageOptions{MaxBytes: 10 << 20, MaxDim: 2048, Quality: 85, Background: white}
}

// GroupPicOptions is used for group pictures, which are shown small.
func GroupPicOptions() ImageOptions {
	return ImageOptions{MaxBytes: 5 << 20, MaxDim: 512, Quality: 85, Background: white}
}

func (o ImageOptions) withDefaults() ImageOptions {
	if o.MaxBytes <= 0 {
		o.MaxBytes = 5 << 20
	}
	if o.MaxDim <= 0 {
		o.MaxDim = 2048
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 85
	}
	if o.Background.A == 0 {
		o.Background = white
	}
	return o
}

// NormalizedImage is a re-encoded JPEG ready for upload.
type NormalizedImage struct {
	Data          []byte
	Width, Height int
	// SourceType is the sniffed type of the upload.
	SourceType string
}

func (n NormalizedImage) ContentType() string { return "image/jpeg" }

func (n NormalizedImage) Size() int64 { return int64(len(n.Data)) }

type imageFormat struct {
	contentType string
	match       func(h []byte) bool
	decode      func(r io.Reader) (image.Image, error)
}

// Upload content types are never trusted; the format comes from the bytes.
var imageFormats = []imageFormat{
	{"image/jpeg", func(h []byte) bool { return bytes.HasPrefix(h, []byte{0xFF, 0xD8, 0xFF}) }, jpeg.Decode},
	{"image/png", func(h []byte) bool { return bytes.HasPrefix(h, []byte("\x89PNG\r\n\x1a\n")) }, png.Decode},
	{"image/gif", func(h []byte) bool { return bytes.HasPrefix(h, []byte("GIF8")) }, gif.Decode},
	{"image/webp", func(h []byte) bool {
		return bytes.HasPrefix(h, []byte("RIFF")) && bytes.Equal(h[8:12], []byte("WEBP"))
	}, webp.Decode},
}

func sniffImage(header []byte) (imageFormat, error) {
	if len(header) < 12 {
		return imageFormat{}, ErrInvalidImage
	}
	for _, f := range imageFormats {
		if f.match(header) {
			return f, nil
		}
	}
	return imageFormat{}, ErrUnsupported
}

// fitWithin scales w x h down so neither side exceeds limit.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, clampMin(h * limit / w)
	}
	return clampMin(w * limit / h), limit
}

func clampMin(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// Normalize reads an uploaded image, checks its format by magic number,
// downscales it to fit within MaxDim and re-encodes it as JPEG. Small images
// keep their size. Animated GIFs keep their first frame.
func Normalize(r io.Reader, opts ImageOptions) (NormalizedImage, error) {
	opts = opts.withDefaults()

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return NormalizedImage{}, err
	}
	if int64(len(data)) > opts.MaxBytes {
		return NormalizedImage{}, ErrTooLarge
	}

	format, err := sniffImage(data)
	if err != nil {
		return NormalizedImage{}, err
	}
	src, err := format.decode(bytes.NewReader(data))
	if err != nil {
		return NormalizedImage{}, fmt.Errorf("decode %s: %w", format.contentType, err)
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return NormalizedImage{}, ErrInvalidImage
	}
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), opts.MaxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return NormalizedImage{}, fmt.Errorf("encode: %w", err)
	}
	return NormalizedImage{Data: out.Bytes(), Width: w, Height: h, SourceType: format.contentType}, nil
}
