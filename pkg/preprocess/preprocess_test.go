package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// pngBytes encodes a small solid-color PNG.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.png")
	if err := os.WriteFile(path, pngBytes(t, w, h), 0644); err != nil {
		t.Fatalf("failed to write test png: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	loader := NewLoader(nil)
	path := writePNG(t, 64, 48)

	img, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if img.Width != 64 || img.Height != 48 {
		t.Errorf("expected 64x48, got %dx%d", img.Width, img.Height)
	}
	if img.Format != "png" {
		t.Errorf("expected format png, got %q", img.Format)
	}
	if img.Ref != path {
		t.Errorf("expected ref %q, got %q", path, img.Ref)
	}
	if len(img.Data) == 0 {
		t.Error("expected image data to be retained")
	}
	if img.ImageID == "" {
		t.Error("expected a derived image ID")
	}
}

func TestLoadImageIDIsContentDerived(t *testing.T) {
	loader := NewLoader(nil)
	ctx := context.Background()

	a, err := loader.Load(ctx, writePNG(t, 10, 10))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b, err := loader.Load(ctx, writePNG(t, 10, 10))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c, err := loader.Load(ctx, writePNG(t, 20, 10))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if a.ImageID != b.ImageID {
		t.Errorf("identical bytes should share an ID: %s vs %s", a.ImageID, b.ImageID)
	}
	if a.ImageID == c.ImageID {
		t.Error("different bytes should get different IDs")
	}
}

func TestLoadFromURL(t *testing.T) {
	data := pngBytes(t, 32, 32)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	loader := NewLoader(server.Client())
	img, err := loader.Load(context.Background(), server.URL+"/shot.png")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Width != 32 || img.Height != 32 {
		t.Errorf("expected 32x32, got %dx%d", img.Width, img.Height)
	}
	if img.Format != "png" {
		t.Errorf("expected format png, got %q", img.Format)
	}
}

func TestLoadURLServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	loader := NewLoader(server.Client())
	if _, err := loader.Load(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestLoadURLRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes(t, 4, 4))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := NewLoader(server.Client())
	if _, err := loader.Load(ctx, server.URL); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewLoader(nil)
	if _, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDirectory(t *testing.T) {
	loader := NewLoader(nil)
	if _, err := loader.Load(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for directory")
	}
}

func TestLoadNotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loader := NewLoader(nil)
	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Fatal("expected decode error for non-image data")
	}
}
