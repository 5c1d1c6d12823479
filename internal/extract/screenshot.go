package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/metrics"
)

const maxScreenshotBytes = 20 << 20

// RemoteScreenshots asks the primary backend for a screenshot URL and
// downloads the image. It implements crawler.ScreenshotSource.
type RemoteScreenshots struct {
	primary crawler.PrimaryBackend
	http    *http.Client
}

// NewRemoteScreenshots builds a source over primary.
func NewRemoteScreenshots(primary crawler.PrimaryBackend, client *http.Client) *RemoteScreenshots {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteScreenshots{primary: primary, http: client}
}

// Screenshot fetches the rendered image for url.
func (r *RemoteScreenshots) Screenshot(ctx context.Context, url string) (crawler.Image, error) {
	shotURL, err := r.primary.Screenshot(ctx, url)
	if err != nil {
		return crawler.Image{}, fmt.Errorf("request screenshot: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shotURL, nil)
	if err != nil {
		return crawler.Image{}, fmt.Errorf("build screenshot download: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return crawler.Image{}, fmt.Errorf("download screenshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return crawler.Image{}, &crawler.StatusError{Service: "screenshot", Code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScreenshotBytes))
	if err != nil {
		return crawler.Image{}, fmt.Errorf("read screenshot: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if mt, _, perr := mime.ParseMediaType(contentType); perr == nil {
		contentType = mt
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return crawler.Image{Data: data, ContentType: contentType, SourceURL: shotURL}, nil
}

// Archiver captures a screenshot and keeps it twice: as a data URI preview
// keyed by site URL and, when a blob store is set, as an object. It
// implements crawler.ScreenshotCapturer.
type Archiver struct {
	source   crawler.ScreenshotSource
	previews crawler.ImagePreviewStore
	blobs    crawler.BlobStore
	logger   *zap.Logger
}

// NewArchiver wires an Archiver. blobs may be nil.
func NewArchiver(source crawler.ScreenshotSource, previews crawler.ImagePreviewStore, blobs crawler.BlobStore, logger *zap.Logger) (*Archiver, error) {
	if source == nil {
		return nil, fmt.Errorf("screenshot source: %w", ErrNotInitialized)
	}
	if previews == nil {
		return nil, errors.New("preview store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{source: source, previews: previews, blobs: blobs, logger: logger}, nil
}

// Capture stores a screenshot of siteURL and returns its reference: the blob
// URI when archived, otherwise the image's source URL.
func (a *Archiver) Capture(ctx context.Context, siteURL string) (string, error) {
	img, err := a.source.Screenshot(ctx, siteURL)
	if err != nil {
		metrics.ObserveScreenshot("error")
		return "", err
	}
	if err := a.previews.SavePreview(ctx, siteURL, DataURI(img)); err != nil {
		metrics.ObserveScreenshot("error")
		return "", fmt.Errorf("save preview: %w", err)
	}
	ref := img.SourceURL
	if a.blobs != nil {
		uri, err := a.blobs.PutObject(ctx, BlobPath(siteURL, img.ContentType), img.ContentType, bytes.NewReader(img.Data))
		if err != nil {
			// The preview is already saved; losing the archive copy is tolerable.
			a.logger.Warn("archive screenshot failed", zap.String("url", siteURL), zap.Error(err))
		} else {
			ref = uri
		}
	}
	metrics.ObserveScreenshot("success")
	return ref, nil
}

// DataURI encodes img for inline display.
func DataURI(img crawler.Image) string {
	ct := img.ContentType
	if ct == "" {
		ct = "image/png"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// BlobPath derives a stable object path for a site's screenshot.
func BlobPath(siteURL, contentType string) string {
	sum := sha256.Sum256([]byte(siteURL))
	key := hex.EncodeToString(sum[:])
	ext := ".png"
	switch {
	case strings.Contains(contentType, "jpeg"):
		ext = ".jpg"
	case strings.Contains(contentType, "webp"):
		ext = ".webp"
	}
	return "screenshots/" + key[:2] + "/" + key + ext
}
