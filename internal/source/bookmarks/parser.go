// Package bookmarks reads browser bookmark exports in the Netscape HTML
// format that Chrome, Firefox and Safari all produce.
package bookmarks

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/starmark/internal/crawler"
)

// Bookmark is one exported link.
type Bookmark struct {
	URL     string
	Title   string
	Folder  string
	AddedAt time.Time
}

// Parse extracts http(s) bookmarks from r in document order. Folder is the
// slash-joined path of enclosing folders.
func Parse(r io.Reader) ([]Bookmark, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse bookmark export: %w", err)
	}
	var out []Bookmark
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		u, err := url.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return
		}
		b := Bookmark{
			URL:    href,
			Title:  strings.TrimSpace(a.Text()),
			Folder: folderPath(a),
		}
		if secs, err := strconv.ParseInt(a.AttrOr("add_date", ""), 10, 64); err == nil && secs > 0 {
			b.AddedAt = time.Unix(secs, 0).UTC()
		}
		out = append(out, b)
	})
	return out, nil
}

// ParseFile opens path and parses it.
func ParseFile(path string) ([]Bookmark, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bookmark export: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// folderPath walks the enclosing <DL> lists; each is preceded by the <H3>
// naming its folder.
func folderPath(a *goquery.Selection) string {
	var names []string
	a.ParentsFiltered("dl").Each(func(_ int, dl *goquery.Selection) {
		if name := strings.TrimSpace(dl.PrevFiltered("h3").Text()); name != "" {
			names = append(names, name)
		}
	})
	slices.Reverse(names)
	return strings.Join(names, "/")
}

// Targets converts bookmarks to crawl targets, dropping duplicate URLs.
func Targets(bms []Bookmark) []crawler.CrawlTarget {
	seen := make(map[string]struct{}, len(bms))
	out := make([]crawler.CrawlTarget, 0, len(bms))
	for _, b := range bms {
		if _, dup := seen[b.URL]; dup {
			continue
		}
		seen[b.URL] = struct{}{}
		out = append(out, crawler.CrawlTarget{URL: b.URL, Type: crawler.CrawlTypeBookmarks})
	}
	return out
}
