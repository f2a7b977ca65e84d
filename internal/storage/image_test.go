package storage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestNormalize_Dimensions(t *testing.T) {
	small := AttachmentImageOptions()
	small.MaxDim = 100

	tests := []struct {
		name         string
		w, h         int
		opts         ImageOptions
		wantW, wantH int
	}{
		{"Keeps small image", 120, 60, AttachmentImageOptions(), 120, 60},
		{"Fits wide image", 200, 50, small, 100, 25},
		{"Fits tall image", 50, 200, small, 25, 100},
		{"Group picture", 1024, 1024, GroupPicOptions(), 512, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(bytes.NewReader(encodePNG(t, tt.w, tt.h)), tt.opts)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if out.SourceType != "image/png" || out.ContentType() != "image/jpeg" {
				t.Errorf("types = %q -> %q, want image/png -> image/jpeg", out.SourceType, out.ContentType())
			}
			decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
			if err != nil {
				t.Fatalf("jpeg decode: %v", err)
			}
			if decoded.Bounds().Dx() != tt.wantW || decoded.Bounds().Dy() != tt.wantH {
				t.Errorf("dims = %dx%d, want %dx%d", decoded.Bounds().Dx(), decoded.Bounds().Dy(), tt.wantW, tt.wantH)
			}
			if out.Width != tt.wantW || out.Height != tt.wantH {
				t.Errorf("reported dims = %dx%d, want %dx%d", out.Width, out.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	tiny := AttachmentImageOptions()
	tiny.MaxBytes = 10

	tests := []struct {
		name    string
		payload []byte
		opts    ImageOptions
		want    error
	}{
		{"Too large", bytes.Repeat([]byte{0x00}, 11), tiny, ErrTooLarge},
		{"Unknown magic", bytes.Repeat([]byte{0x01}, 128), AttachmentImageOptions(), ErrUnsupported},
		{"Truncated header", []byte{0xFF, 0xD8}, AttachmentImageOptions(), ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(bytes.NewReader(tt.payload), tt.opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNormalize_GIFFirstFrame(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 40, 30), color.Palette{color.Black, color.White})

	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, img, nil); err != nil {
		t.Fatalf("gif encode: %v", err)
	}

	out, err := Normalize(bytes.NewReader(gifBuf.Bytes()), GroupPicOptions())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.SourceType != "image/gif" || out.Size() != int64(len(out.Data)) {
		t.Fatalf("source = %q size = %d, want image/gif and %d", out.SourceType, out.Size(), len(out.Data))
	}
}

func TestFitWithin(t *testing.T) {
	if w, h := fitWithin(4000, 1, 100); w != 100 || h != 1 {
		t.Errorf("fitWithin(4000,1) = %dx%d, want 100x1", w, h)
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name      string
		folder    string
		key       string
		want      string
		shouldErr bool
	}{
		{"Traversal", "", "../x", "", true},
		{"Backslash", "", "..\\x", "", true},
		{"Empty", "chat-files", "  ", "", true},
		{"Leading slash", "", "/group-pics/1/a.jpg", "group-pics/1/a.jpg", false},
		{"Folder prefix", "/chat-images/", "abc.jpg", "chat-images/abc.jpg", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ObjectKey(tt.folder, tt.key)
			if (err != nil) != tt.shouldErr {
				t.Fatalf("ObjectKey error = %v, wantErr %v", err, tt.shouldErr)
			}
			if got != tt.want {
				t.Errorf("ObjectKey = %q, want %q", got, tt.want)
			}
		})
	}
}
