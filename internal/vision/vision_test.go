package vision

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestLargestFace(t *testing.T) {
	if _, ok := LargestFace(nil); ok {
		t.Error("empty slice should report no face")
	}

	small := image.Rect(0, 0, 10, 10)
	big := image.Rect(5, 5, 105, 105)
	got, ok := LargestFace([]image.Rectangle{small, big, small})
	if !ok || got != big {
		t.Errorf("LargestFace = %v, %v; want %v", got, ok, big)
	}

	// Ties resolve to the first rectangle returned by the detector.
	a := image.Rect(0, 0, 20, 20)
	b := image.Rect(50, 50, 70, 70)
	got, _ = LargestFace([]image.Rectangle{a, b})
	if got != a {
		t.Errorf("tie should pick first, got %v", got)
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNormalizeJPEG_ReencodesPNG(t *testing.T) {
	out, err := NormalizeJPEG(encodePNG(t, 100, 60), 1600)
	if err != nil {
		t.Fatalf("NormalizeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 60 {
		t.Errorf("small image should keep dimensions, got %v", img.Bounds())
	}
}

func TestNormalizeJPEG_Downscales(t *testing.T) {
	out, err := NormalizeJPEG(encodePNG(t, 3200, 1600), 1600)
	if err != nil {
		t.Fatalf("NormalizeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 1600 || img.Bounds().Dy() != 800 {
		t.Errorf("expected 1600x800, got %v", img.Bounds())
	}
}

func TestNormalizeJPEG_RejectsGarbage(t *testing.T) {
	if _, err := NormalizeJPEG([]byte("not an image"), 1600); !errors.Is(err, ErrImageDecode) {
		t.Errorf("expected ErrImageDecode, got %v", err)
	}
}
