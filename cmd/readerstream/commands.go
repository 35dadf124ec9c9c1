package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/readerstream/internal/config"
	"github.com/agentworkforce/readerstream/internal/reader"
	"github.com/agentworkforce/readerstream/internal/session"
	"github.com/agentworkforce/readerstream/internal/stream"
)

// sourceFlags describe the article list to show, in the same terms the
// router uses.
type sourceFlags struct {
	kind        string
	within      string
	id          int64
	query       string
	article     int64
	unreadOnly  bool
	olderFirst  bool
	unreadFirst bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "source", "user", "user, favorite, feed, tag, popular or search")
	cmd.Flags().StringVar(&f.within, "within", "user", "inner source of popular and search: user, feed or tag")
	cmd.Flags().Int64Var(&f.id, "id", 0, "feed or tag id")
	cmd.Flags().StringVar(&f.query, "query", "", "search query")
	cmd.Flags().Int64Var(&f.article, "article", 0, "article id to keep visible in the list")
	cmd.Flags().BoolVar(&f.unreadOnly, "unread-only", false, "hide read articles")
	cmd.Flags().BoolVar(&f.olderFirst, "older-first", false, "oldest articles first")
	cmd.Flags().BoolVar(&f.unreadFirst, "unread-first", false, "list unread articles before read ones")
}

func (f *sourceFlags) nav() reader.NavContext {
	params := map[string]string{}
	if f.id > 0 {
		params[reader.ParamID] = strconv.FormatInt(f.id, 10)
	}
	if f.query != "" {
		params[reader.ParamQuery] = url.QueryEscape(f.query)
	}
	if f.article > 0 {
		params[reader.ParamArticleID] = strconv.FormatInt(f.article, 10)
	}
	return reader.NavContext{Primary: f.kind, Secondary: f.within, Params: params}
}

func (f *sourceFlags) source() (*reader.Source, error) {
	source := reader.Resolve(f.nav())
	if source == nil {
		return nil, fmt.Errorf("--source %q with the given --within/--id/--query does not name an article list", f.kind)
	}
	return source, nil
}

// prefs overlays the ordering flags that were given on the configured
// preferences.
func (f *sourceFlags) prefs(cmd *cobra.Command, base reader.Preferences) reader.Preferences {
	flags := cmd.Flags()
	if flags.Changed("unread-only") {
		base.UnreadOnly = f.unreadOnly
	}
	if flags.Changed("older-first") {
		base.OlderFirst = f.olderFirst
	}
	if flags.Changed("unread-first") {
		base.UnreadFirst = f.unreadFirst
	}
	return base
}

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	flags := &sourceFlags{}
	var pages int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the article list every time it changes",
		Long: `Load the article list, keep it current from the push channel and print
it after every change. Stops on interrupt.

Example:
  readerstream watch --source feed --id 3 --unread-first --pages 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := flags.source(); err != nil {
				return err
			}
			sess, err := rootOpts.session(func(cfg *config.Config) {
				cfg.Preferences = flags.prefs(cmd, cfg.Preferences)
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, sess, flags.nav(), pages, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	return cmd
}

func watch(ctx context.Context, sess *session.Session, nav reader.NavContext, pages int, w io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(ctx) })
	g.Go(func() error {
		snapshots, unsubscribe := sess.Stream.Subscribe()
		defer unsubscribe()
		sess.Stream.Navigate(nav)

		var generation uint64
		requested := 1
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap := <-snapshots:
				if snap.Source == nil {
					continue
				}
				if snap.Generation != generation {
					generation = snap.Generation
					requested = 1
				}
				if !snap.Loading && !snap.Exhausted && len(snap.Articles) > 0 && requested < pages {
					requested++
					sess.Stream.LoadMore()
				}
				renderSnapshot(w, snap, sess.Index)
			}
		}
	})
	return g.Wait()
}

func newListCommand(rootOpts *rootOptions) *cobra.Command {
	flags := &sourceFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the first page of an article list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := flags.source()
			if err != nil {
				return err
			}
			sess, err := rootOpts.session(nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := sess.RebuildIndex(ctx); err != nil {
				rootOpts.logger.Warn("feed titles unavailable", "err", err)
			}
			fetcher := stream.NewFetcher(sess.API, 0, rootOpts.logger)
			articles, err := fetcher.Fetch(ctx, stream.FetchRequest{
				Source:     source,
				Prefs:      flags.prefs(cmd, rootOpts.cfg.Preferences),
				Limit:      rootOpts.cfg.PageSize,
				DeepLinkID: flags.article,
			})
			if err != nil {
				return err
			}
			renderSnapshot(cmd.OutOrStdout(), stream.Snapshot{Source: source, Articles: articles}, sess.Index)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// parseMarkAction maps a mark verb to a property change.
func parseMarkAction(action string) (name string, value bool, err error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "read":
		return reader.PropertyRead, true, nil
	case "unread":
		return reader.PropertyRead, false, nil
	case "favorite":
		return reader.PropertyFavorite, true, nil
	case "unfavorite":
		return reader.PropertyFavorite, false, nil
	default:
		return "", false, fmt.Errorf("unknown action %q: want read, unread, favorite or unfavorite", action)
	}
}

func parseArticleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid article id %q", raw)
	}
	return id, nil
}

// printSink reports confirmed changes instead of applying them to a list.
type printSink struct{ w io.Writer }

func (p printSink) Submit(batch stream.Batch) {
	if b, ok := batch.(stream.PropertyBatch); ok {
		fmt.Fprintf(p.w, "%s=%t on %v\n", b.Name, b.Value, b.Filter.IDs)
	}
}

func (p printSink) RefreshSource(source *reader.Source) {
	fmt.Fprintf(p.w, "marked %s read\n", source)
}

func newMarkCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <article-id> <read|unread|favorite|unfavorite>",
		Short: "Change the read or favorite flag of one article",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArticleID(args[0])
			if err != nil {
				return err
			}
			name, value, err := parseMarkAction(args[1])
			if err != nil {
				return err
			}
			sess, err := rootOpts.session(nil)
			if err != nil {
				return err
			}
			gateway := stream.NewGateway(sess.API, printSink{w: cmd.OutOrStdout()}, rootOpts.logger)
			_, err = gateway.SetProperty(cmd.Context(), id, name, value)
			return err
		},
	}
}

func newMarkAllReadCommand(rootOpts *rootOptions) *cobra.Command {
	flags := &sourceFlags{}

	cmd := &cobra.Command{
		Use:   "mark-all-read",
		Short: "Mark every article of a source read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := flags.source()
			if err != nil {
				return err
			}
			sess, err := rootOpts.session(nil)
			if err != nil {
				return err
			}
			gateway := stream.NewGateway(sess.API, printSink{w: cmd.OutOrStdout()}, rootOpts.logger)
			return gateway.MarkSourceRead(cmd.Context(), source)
		},
	}
	flags.register(cmd)
	return cmd
}

func newFormatCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "format <article-id>",
		Short: "Print the rich content of an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArticleID(args[0])
			if err != nil {
				return err
			}
			sess, err := rootOpts.session(nil)
			if err != nil {
				return err
			}
			format, err := sess.Formats.ArticleFormat(cmd.Context(), id)
			if err != nil {
				return err
			}
			renderFormat(cmd.OutOrStdout(), format)
			return nil
		},
	}
}
