package ailink

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gifmotion/gifmotion/internal/ailink/encode"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(w, h)))
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, solidImage(w, h), nil))
	return buf.Bytes()
}

func TestResolvePassesDataURLThrough(t *testing.T) {
	r := &ImageResolver{}
	out, err := r.Resolve(context.Background(), "data:image/jpeg;base64,/9j/4AAQ")
	require.NoError(t, err)
	require.Equal(t, "data:image/jpeg;base64,/9j/4AAQ", out)
}

func TestResolveFetchesURL(t *testing.T) {
	data := pngBytes(t, 8, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	r := &ImageResolver{HTTPClient: server.Client()}
	out, err := r.Resolve(context.Background(), server.URL+"/cat.png")
	require.NoError(t, err)
	require.Equal(t, encode.DataURL("image/png", data), out)
}

func TestResolveRejectsBadPayloads(t *testing.T) {
	notAnImage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer notAnImage.Close()

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	r := &ImageResolver{}
	for _, payload := range []string{
		"",
		"   ",
		"not a url at all",
		"ftp://example.com/cat.png",
		"file:///etc/passwd",
		notAnImage.URL,
		missing.URL,
	} {
		_, err := r.Resolve(context.Background(), payload)
		require.Error(t, err, payload)
	}
}

func TestResolveEnforcesMaxBytes(t *testing.T) {
	data := pngBytes(t, 64, 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer server.Close()

	r := &ImageResolver{MaxBytes: int64(len(data) - 1)}
	_, err := r.Resolve(context.Background(), server.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}

func TestFromBytesReencodesGIF(t *testing.T) {
	r := &ImageResolver{}
	out, err := r.FromBytes(gifBytes(t, 6, 6))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "data:image/png;base64,"))

	mimeType, decoded, err := encode.ParseDataURL(out)
	require.NoError(t, err)
	require.Equal(t, "image/png", mimeType)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(decoded))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 6, cfg.Width)
}

func TestFromBytesDownscalesLongestEdge(t *testing.T) {
	r := &ImageResolver{MaxEdge: 50}
	out, err := r.FromBytes(pngBytes(t, 200, 100))
	require.NoError(t, err)

	_, decoded, err := encode.ParseDataURL(out)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(decoded))
	require.NoError(t, err)
	require.Equal(t, 50, cfg.Width)
	require.Equal(t, 25, cfg.Height)
}

func TestFromBytesKeepsSmallImages(t *testing.T) {
	data := pngBytes(t, 10, 10)
	r := &ImageResolver{MaxEdge: 50}
	out, err := r.FromBytes(data)
	require.NoError(t, err)
	require.Equal(t, encode.DataURL("image/png", data), out)
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	r := &ImageResolver{}
	_, err := r.FromBytes([]byte("definitely not an image"))
	require.Error(t, err)

	_, err = r.FromBytes(nil)
	require.Error(t, err)
}
