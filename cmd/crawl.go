package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/starmark/internal/crawler"
	"github.com/JakeFAU/starmark/internal/source/bookmarks"
)

type crawlOptions struct {
	crawlType     string
	bookmarksFile string
	githubUser    string
}

// newCrawlCmd creates the 'crawl' subcommand. Targets come from arguments,
// an exported bookmarks file, a GitHub user's stars, or any mix of them.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl [urls...]",
		Short: "Crawl and summarize URLs in the foreground",
		Long: `Runs one batch over the given targets. Interrupting with Ctrl-C pauses
the batch; the remaining targets stay pending and "serve" or another crawl
can resume them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.crawlType, "type", string(crawler.CrawlTypeBookmarks), "crawl type for URL arguments (bookmarks or github-stars)")
	cmd.Flags().StringVar(&opts.bookmarksFile, "bookmarks", "", "Netscape bookmarks HTML export to crawl")
	cmd.Flags().StringVar(&opts.githubUser, "github-user", "", "GitHub user whose starred repositories to crawl")
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, opts crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	typ := crawler.CrawlType(opts.crawlType)
	if len(args) > 0 && !typ.Valid() {
		return fmt.Errorf("invalid --type %q", opts.crawlType)
	}
	targets := make([]crawler.CrawlTarget, 0, len(args))
	for _, u := range args {
		targets = append(targets, crawler.CrawlTarget{URL: u, Type: typ})
	}
	if opts.bookmarksFile != "" {
		bms, err := bookmarks.ParseFile(opts.bookmarksFile)
		if err != nil {
			return fmt.Errorf("read bookmarks: %w", err)
		}
		targets = append(targets, bookmarks.Targets(bms)...)
	}
	if opts.githubUser != "" {
		stars, err := appInstance.StarredTargets(cmd.Context(), opts.githubUser)
		if err != nil {
			return err
		}
		targets = append(targets, stars...)
	}
	if len(targets) == 0 {
		return errors.New("nothing to crawl: pass URLs, --bookmarks or --github-user")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := appInstance.RunBatch(ctx, targets)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run batch: %w", err)
	}
	logger.Info("crawl command finished",
		zap.String("run_id", sum.RunID.String()),
		zap.String("status", string(sum.Status)))
	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"run %s %s: %d targets, %d finished, %d failed, %d skipped, %d decode failures\n",
		sum.RunID, sum.Status, sum.Total, sum.Finished, sum.Failed, sum.Skipped, sum.DecodeFailed)
	return err
}
