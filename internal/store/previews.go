package store

import (
	"context"
	"errors"
)

type preview struct {
	URL     string `json:"url"`
	DataURI string `json:"dataUri"`
}

// Previews stores screenshot data URIs in the imagePreviews collection, one
// per site URL. It implements crawler.ImagePreviewStore.
type Previews struct {
	s Store
}

// NewPreviews wraps s.
func NewPreviews(s Store) *Previews {
	return &Previews{s: s}
}

// SavePreview upserts the preview for siteURL.
func (p *Previews) SavePreview(ctx context.Context, siteURL, dataURI string) error {
	if siteURL == "" {
		return errors.New("preview url is required")
	}
	return PutJSON(ctx, p.s, CollectionImagePreviews, siteURL, preview{URL: siteURL, DataURI: dataURI})
}

// GetPreview returns the data URI stored for siteURL.
func (p *Previews) GetPreview(ctx context.Context, siteURL string) (string, error) {
	var out preview
	if err := GetJSON(ctx, p.s, CollectionImagePreviews, siteURL, &out); err != nil {
		return "", err
	}
	return out.DataURI, nil
}
