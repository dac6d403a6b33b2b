package service

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	// ThumbnailMaxWidth and ThumbnailMaxHeight bound history-list previews.
	ThumbnailMaxWidth  = 400
	ThumbnailMaxHeight = 300

	thumbnailJPEGQuality = 80
	chartJPEGQuality     = 90
)

// =============================================================================
// Interface Definition
// =============================================================================

// PreparedImage is a chart ready to send to the model.
type PreparedImage struct {
	Data        []byte
	ContentType string
	Width       int // 0 when the format could not be decoded locally
	Height      int
	Resized     bool
}

// ImageProcessor downscales uploaded charts and renders thumbnails.
type ImageProcessor interface {
	// CanDecode reports whether the processor can decode contentType.
	CanDecode(contentType string) bool

	// Prepare fits the chart within maxDim x maxDim, preserving aspect
	// ratio. Formats it cannot decode, and images already small enough,
	// are returned unchanged.
	Prepare(data []byte, contentType string, maxDim int) (*PreparedImage, error)

	// Thumbnail renders a JPEG preview within maxWidth x maxHeight.
	Thumbnail(data []byte, maxWidth, maxHeight int) ([]byte, error)
}

// =============================================================================
// Implementation
// =============================================================================

// imagingProcessor implements ImageProcessor using the imaging library.
type imagingProcessor struct{}

// NewImagingProcessor creates a new ImageProcessor backed by imaging.
func NewImagingProcessor() ImageProcessor {
	return &imagingProcessor{}
}

func (p *imagingProcessor) CanDecode(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	default:
		return false
	}
}

func (p *imagingProcessor) Prepare(data []byte, contentType string, maxDim int) (*PreparedImage, error) {
	if !p.CanDecode(contentType) {
		return &PreparedImage{Data: data, ContentType: contentType}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	prepared := &PreparedImage{
		Data:        data,
		ContentType: contentType,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}
	if maxDim <= 0 || (prepared.Width <= maxDim && prepared.Height <= maxDim) {
		return prepared, nil
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	// PNG keeps axis labels and price text sharp; everything else goes to JPEG.
	format, outType := imaging.JPEG, "image/jpeg"
	opts := []imaging.EncodeOption{imaging.JPEGQuality(chartJPEGQuality)}
	if contentType == "image/png" {
		format, outType = imaging.PNG, "image/png"
		opts = nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, opts...); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	b := resized.Bounds()
	return &PreparedImage{
		Data:        buf.Bytes(),
		ContentType: outType,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Resized:     true,
	}, nil
}

func (p *imagingProcessor) Thumbnail(data []byte, maxWidth, maxHeight int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	thumbnail := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG, imaging.JPEGQuality(thumbnailJPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
