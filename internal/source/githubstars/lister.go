// Package githubstars lists the repositories a GitHub user has starred.
package githubstars

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
)

// DefaultEndpoint is the public GitHub REST API.
const DefaultEndpoint = "https://api.github.com"

const (
	defaultPerPage  = 100
	defaultMaxPages = 50
)

// Config controls the lister.
type Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Token     string        `mapstructure:"token"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PerPage   int           `mapstructure:"per_page"`
	MaxPages  int           `mapstructure:"max_pages"`
}

// Repo is one starred repository.
type Repo struct {
	FullName    string `json:"full_name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Stars       int    `json:"stargazers_count"`
}

// Lister pages through the starred endpoint with a colly collector.
type Lister struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Lister.
func New(cfg Config, logger *zap.Logger) *Lister {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.PerPage <= 0 || cfg.PerPage > defaultPerPage {
		cfg.PerPage = defaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Lister{cfg: cfg, base: c, logger: logger}
}

var nextLink = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// List returns every repository user has starred, newest star first.
func (l *Lister) List(ctx context.Context, user string) ([]Repo, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, errors.New("github user is required")
	}
	var (
		repos    []Repo
		pages    int
		fetchErr error
	)
	collector := l.base.Clone()
	collector.SetRequestTimeout(l.cfg.Timeout)
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Accept", "application/vnd.github+json")
		if l.cfg.Token != "" {
			r.Headers.Set("Authorization", "Bearer "+l.cfg.Token)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		var page []Repo
		if err := json.Unmarshal(r.Body, &page); err != nil {
			fetchErr = fmt.Errorf("decode starred page: %w", err)
			return
		}
		repos = append(repos, page...)
		pages++
		l.logger.Debug("starred page fetched", zap.Int("page", pages), zap.Int("repos", len(page)))
		if pages >= l.cfg.MaxPages {
			return
		}
		if m := nextLink.FindStringSubmatch(r.Headers.Get("Link")); m != nil {
			if err := r.Request.Visit(m[1]); err != nil {
				fetchErr = fmt.Errorf("visit next page: %w", err)
			}
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = &crawler.StatusError{Service: "github", Code: r.StatusCode, Body: truncate(string(r.Body), 256)}
			return
		}
		fetchErr = err
	})

	start := fmt.Sprintf("%s/users/%s/starred?per_page=%d", l.cfg.Endpoint, url.PathEscape(user), l.cfg.PerPage)
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(start)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("list stars canceled: %w", ctx.Err())
	case err := <-done:
		// Callback errors carry more detail than the one Visit returns.
		if fetchErr != nil {
			return nil, fmt.Errorf("list stars for %s: %w", user, fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("list stars for %s: %w", user, err)
		}
	}
	l.logger.Info("listed starred repositories", zap.String("user", user), zap.Int("repos", len(repos)))
	return repos, nil
}

// Targets converts repos to github-stars crawl targets, skipping blanks and
// duplicates.
func Targets(repos []Repo) []crawler.CrawlTarget {
	seen := make(map[string]struct{}, len(repos))
	out := make([]crawler.CrawlTarget, 0, len(repos))
	for _, r := range repos {
		if r.HTMLURL == "" {
			continue
		}
		if _, dup := seen[r.HTMLURL]; dup {
			continue
		}
		seen[r.HTMLURL] = struct{}{}
		out = append(out, crawler.CrawlTarget{URL: r.HTMLURL, Type: crawler.CrawlTypeGithubStars})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
}
