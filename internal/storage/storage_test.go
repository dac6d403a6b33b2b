package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files/",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestChartKeys(t *testing.T) {
	user := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	chart := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t,
		"charts/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.png",
		ChartKey(user, chart, "image/png"))
	assert.Equal(t,
		"charts/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.jpg",
		ChartKey(user, chart, "image/JPG; charset=binary"))
	assert.Equal(t,
		"charts/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222_thumb.jpg",
		ChartThumbnailKey(user, chart))
}

func TestIsAllowedImageType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"image/jpg", true},
		{"IMAGE/WEBP", true},
		{"image/gif", true},
		{"image/heic", false},
		{"image/bmp", false},
		{"application/pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAllowedImageType(tt.contentType))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	pngHeader := []byte("\x89PNG\r\n\x1a\n")

	assert.Equal(t, "image/gif", DetectContentType("image/gif", "a.png", pngHeader))
	assert.Equal(t, "image/png", DetectContentType("", "chart.png", nil))
	assert.Equal(t, "image/png", DetectContentType("", "noext", pngHeader))
	assert.Equal(t, "application/octet-stream", DetectContentType("", "noext", nil))
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := "charts/u/c.png"

	require.NoError(t, s.Put(ctx, key, strings.NewReader("chart-bytes"), PutOptions{ContentType: "image/png"}))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "chart-bytes", string(body))
	assert.Equal(t, int64(len("chart-bytes")), info.Size)
	assert.Equal(t, "image/png", info.ContentType)

	url, err := s.URL(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/charts/u/c.png", url)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "delete is idempotent")

	_, _, err = s.Get(ctx, key)
	assert.True(t, IsNotFound(err))
}

func TestLocalStorage_PutRules(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "a.png", strings.NewReader("one"), PutOptions{}))

	err := s.Put(ctx, "a.png", strings.NewReader("two"), PutOptions{})
	assert.True(t, IsKeyExists(err))

	require.NoError(t, s.Put(ctx, "a.png", strings.NewReader("two"), PutOptions{Overwrite: true}))

	err = s.Put(ctx, "big.png", strings.NewReader("0123456789"), PutOptions{MaxSize: 4})
	assert.True(t, IsTooLarge(err))
	exists, err := s.Exists(ctx, "big.png")
	require.NoError(t, err)
	assert.False(t, exists, "oversized uploads leave nothing behind")
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	for _, key := range []string{"", "../escape.png", "charts/../../escape.png"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.True(t, IsInvalidKey(err), "key %q", key)
	}
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, validateKey("charts/u/c.png"))
	assert.ErrorIs(t, validateKey(""), ErrInvalidKey)
	assert.ErrorIs(t, validateKey("/abs"), ErrInvalidKey)
	assert.ErrorIs(t, validateKey("a/../b"), ErrInvalidKey)
}
