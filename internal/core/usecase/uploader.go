package usecase

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

// DefaultMaxScanBytes is the size above which image scans get downscaled.
const DefaultMaxScanBytes = 1 << 20

// Upload is one file attached to a dispatcher call, keyed by the form field
// it arrived in.
type Upload struct {
	Field       string
	Filename    string
	ContentType string
	Body        []byte
}

// Uploader stores attachments in blob storage and returns their URLs.
type Uploader struct {
	blobs    ports.BlobStorage
	maxBytes int
	logger   *zap.Logger
}

func NewUploader(blobs ports.BlobStorage, maxBytes int, logger *zap.Logger) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxScanBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{blobs: blobs, maxBytes: maxBytes, logger: logger}
}

// UploadFile writes f to path and returns a URL for it.
func (u *Uploader) UploadFile(ctx context.Context, f Upload, path string) (string, error) {
	if u == nil || u.blobs == nil {
		return "", &domain.UploadError{Path: path, Err: errors.New("no blob storage configured")}
	}
	body, contentType := u.normalize(f)
	url, err := u.blobs.Put(ctx, path, contentType, bytes.NewReader(body))
	if err != nil {
		return "", &domain.UploadError{Path: path, Err: err}
	}
	return url, nil
}

func (u *Uploader) DeleteFile(ctx context.Context, path string) error {
	if u == nil || u.blobs == nil {
		return &domain.UploadError{Path: path, Err: errors.New("no blob storage configured")}
	}
	if err := u.blobs.Delete(ctx, path); err != nil {
		return &domain.UploadError{Path: path, Err: err}
	}
	return nil
}

// normalize shrinks oversized JPEG and PNG scans. Anything it cannot decode
// or re-encode is stored as received.
func (u *Uploader) normalize(f Upload) ([]byte, string) {
	contentType := f.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(f.Body)
	}
	if len(f.Body) <= u.maxBytes {
		return f.Body, contentType
	}
	format, err := imaging.FormatFromFilename(f.Filename)
	if err != nil || (format != imaging.JPEG && format != imaging.PNG) {
		if !strings.HasPrefix(contentType, "image/") {
			return f.Body, contentType
		}
		format = imaging.JPEG
	}
	img, err := imaging.Decode(bytes.NewReader(f.Body), imaging.AutoOrientation(true))
	if err != nil {
		return f.Body, contentType
	}

	scale := math.Sqrt(float64(u.maxBytes) / float64(len(f.Body)))
	if scale > 0.95 {
		scale = 0.95
	}
	if scale < 0.1 {
		scale = 0.1
	}
	w := int(math.Max(1, math.Round(float64(img.Bounds().Dx())*scale)))
	h := int(math.Max(1, math.Round(float64(img.Bounds().Dy())*scale)))
	img = imaging.Resize(img, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return f.Body, contentType
	}
	u.logger.Debug("scan downscaled",
		zap.String("file", f.Filename),
		zap.Int("from_bytes", len(f.Body)),
		zap.Int("to_bytes", buf.Len()),
	)
	if format == imaging.PNG {
		return buf.Bytes(), "image/png"
	}
	return buf.Bytes(), "image/jpeg"
}
