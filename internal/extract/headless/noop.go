package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/starmark/internal/crawler"
)

// ErrUnavailable is returned by Noop.
var ErrUnavailable = errors.New("headless screenshots not configured")

// Noop stands in when no browser is available.
type Noop struct{}

// Screenshot always fails with ErrUnavailable.
func (Noop) Screenshot(context.Context, string) (crawler.Image, error) {
	return crawler.Image{}, ErrUnavailable
}
