package ailink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"  // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/gifmotion/gifmotion/internal/ailink/encode"
)

const (
	dataImagePrefix = "data:image/"

	DefaultImageFetchTimeout = 30 * time.Second
	DefaultImageMaxBytes     = 16 << 20
)

// passthroughFormats are sent as-is; anything else is re-encoded to PNG.
var passthroughFormats = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
}

// ImageResolver turns an image payload into a data URL the remote accepts.
type ImageResolver struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxBytes   int64
	// MaxEdge downscales images whose longest edge exceeds it. Zero disables.
	MaxEdge int
}

// Resolve returns payload unchanged when it is already an image data URL and
// otherwise fetches it as an http(s) URL.
func (r *ImageResolver) Resolve(ctx context.Context, payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", errors.New("image is empty")
	}
	if strings.HasPrefix(payload, dataImagePrefix) {
		return payload, nil
	}

	data, err := r.fetch(ctx, payload)
	if err != nil {
		return "", err
	}
	return r.FromBytes(data)
}

// FromBytes validates raw image bytes and encodes them as a data URL.
func (r *ImageResolver) FromBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("image is empty")
	}
	if limit := r.maxBytes(); int64(len(data)) > limit {
		return "", fmt.Errorf("image exceeds %d bytes", limit)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", errors.New("invalid image dimensions")
	}

	mimeType, passthrough := passthroughFormats[format]
	oversized := r.MaxEdge > 0 && (cfg.Width > r.MaxEdge || cfg.Height > r.MaxEdge)
	if passthrough && !oversized {
		return encode.DataURL(mimeType, data), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if oversized {
		img = scaleToFit(img, r.MaxEdge)
	}

	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return "", fmt.Errorf("encode image: %w", err)
		}
		return encode.DataURL("image/jpeg", buf.Bytes()), nil
	}
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	return encode.DataURL("image/png", buf.Bytes()), nil
}

func (r *ImageResolver) fetch(ctx context.Context, raw string) ([]byte, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse image url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported image url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("image url has no host")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultImageFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	limit := r.maxBytes()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image exceeds %d bytes", limit)
	}
	return data, nil
}

func (r *ImageResolver) maxBytes() int64 {
	if r.MaxBytes > 0 {
		return r.MaxBytes
	}
	return DefaultImageMaxBytes
}

func scaleToFit(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	longest := width
	if height > longest {
		longest = height
	}
	scale := float64(maxEdge) / float64(longest)
	if scale >= 1 {
		return src
	}

	newW := int(float64(width) * scale)
	newH := int(float64(height) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
