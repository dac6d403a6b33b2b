package service

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImagingProcessor_Prepare(t *testing.T) {
	p := NewImagingProcessor()

	t.Run("small charts pass through", func(t *testing.T) {
		data := pngChart(t, 200, 100)
		got, err := p.Prepare(data, "image/png", 1568)
		require.NoError(t, err)
		assert.False(t, got.Resized)
		assert.Equal(t, data, got.Data)
		assert.Equal(t, 200, got.Width)
		assert.Equal(t, 100, got.Height)
	})

	t.Run("large png stays png", func(t *testing.T) {
		got, err := p.Prepare(pngChart(t, 400, 100), "image/png", 200)
		require.NoError(t, err)
		assert.True(t, got.Resized)
		assert.Equal(t, "image/png", got.ContentType)
		assert.Equal(t, 200, got.Width)
		assert.Equal(t, 50, got.Height)

		cfg, err := png.DecodeConfig(bytes.NewReader(got.Data))
		require.NoError(t, err)
		assert.Equal(t, 200, cfg.Width)
	})

	t.Run("webp is passed through undecoded", func(t *testing.T) {
		data := []byte("RIFF\x00\x00\x00\x00WEBPVP8 ")
		got, err := p.Prepare(data, "image/webp", 100)
		require.NoError(t, err)
		assert.Equal(t, data, got.Data)
		assert.Zero(t, got.Width)
	})

	t.Run("corrupt data fails", func(t *testing.T) {
		_, err := p.Prepare([]byte("garbage"), "image/png", 100)
		assert.Error(t, err)
	})
}

func TestImagingProcessor_Thumbnail(t *testing.T) {
	p := NewImagingProcessor()

	thumb, err := p.Thumbnail(pngChart(t, 1600, 900), ThumbnailMaxWidth, ThumbnailMaxHeight)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.LessOrEqual(t, img.Bounds().Dx(), ThumbnailMaxWidth)
	assert.LessOrEqual(t, img.Bounds().Dy(), ThumbnailMaxHeight)
}
