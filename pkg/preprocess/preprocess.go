// Package preprocess resolves image references into the descriptor the
// extraction stage consumes. It loads bytes from a file path or an
// http(s) URL and reads dimensions from the image header; it never
// resizes or normalizes.
package preprocess

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/logx"
)

// MaxImageBytes caps how much image data one reference may yield.
const MaxImageBytes = 32 << 20 // 32 MiB

// Loader implements the preprocessing stage: reference in, descriptor out.
type Loader struct {
	client *http.Client
	logger *logx.Logger
}

// NewLoader builds a Loader with a default HTTP client. Pass nil to use
// a 30s-timeout client.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{
		client: client,
		logger: logx.NewLogger("preprocess"),
	}
}

// Load resolves ref into a ProcessedImage. The ImageID is derived from
// the content hash so the same bytes always map to the same ID.
func (l *Loader) Load(ctx context.Context, ref string) (extract.ProcessedImage, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err = l.fetch(ctx, ref)
	} else {
		data, err = readFile(ref)
	}
	if err != nil {
		return extract.ProcessedImage{}, err
	}
	if len(data) == 0 {
		return extract.ProcessedImage{}, fmt.Errorf("image %s is empty", ref)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return extract.ProcessedImage{}, fmt.Errorf("failed to decode image header for %s: %w", ref, err)
	}

	img := extract.ProcessedImage{
		ImageID: imageID(data),
		Ref:     ref,
		Data:    data,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Format:  format,
	}
	l.logger.Debug("Loaded %s: %dx%d %s (%d bytes)", ref, img.Width, img.Height, format, len(data))
	return img, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d byte limit", url, MaxImageBytes)
	}
	return data, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("image path %s is a directory", path)
	}
	if info.Size() > MaxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d byte limit", path, MaxImageBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return data, nil
}

// imageID is the first 16 hex chars of the content's SHA-256.
func imageID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
