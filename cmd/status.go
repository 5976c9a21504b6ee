package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// openStore opens and migrates the store for the admin commands.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(config.ModeMigrate); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document counts by pipeline state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		return printStats(os.Stdout, stats)
	},
}

func printStats(out io.Writer, s *store.Stats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tCOUNT")
	for _, status := range []model.DocumentStatus{
		model.DocumentStatusPending,
		model.DocumentStatusProcessing,
		model.DocumentStatusReady,
		model.DocumentStatusError,
	} {
		fmt.Fprintf(w, "%s\t%d\n", status, s.ByStatus[status])
	}
	fmt.Fprintf(w, "features pending\t%d\n", s.FeaturesPending)
	fmt.Fprintf(w, "features done\t%d\n", s.FeaturesDone)
	fmt.Fprintf(w, "companies\t%d\n", s.Companies)
	fmt.Fprintf(w, "investors\t%d\n", s.Investors)
	fmt.Fprintf(w, "funding rounds\t%d\n", s.FundingRounds)
	return w.Flush()
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage RSS/Atom sources",
}

var feedsAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add a feed; an existing URL is renamed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f := &model.Feed{Name: args[0], URL: args[1], Status: model.FeedStatusActive}
		if err := st.UpsertFeed(ctx, f); err != nil {
			return eris.Wrap(err, "feeds add")
		}
		fmt.Fprintf(os.Stdout, "feed %s (%s) %s\n", f.Name, f.ID, f.Status)
		return nil
	},
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feeds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		feeds, err := st.ListFeeds(ctx)
		if err != nil {
			return eris.Wrap(err, "feeds list")
		}
		if len(feeds) == 0 {
			fmt.Fprintln(os.Stderr, "No feeds found.")
			return nil
		}
		return printFeeds(os.Stdout, feeds)
	},
}

func printFeeds(out io.Writer, feeds []model.Feed) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tARTICLES\tLAST INGESTED\tURL")
	for _, f := range feeds {
		last := "-"
		if f.LastIngestedAt != nil {
			last = f.LastIngestedAt.UTC().Format(time.DateTime)
		}
		status := string(f.Status)
		if f.ErrorMessage != "" {
			status += ": " + truncate(f.ErrorMessage, 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", f.Name, status, f.ArticleCount, last, f.URL)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	feedsCmd.AddCommand(feedsAddCmd, feedsListCmd)
	rootCmd.AddCommand(migrateCmd, statusCmd, feedsCmd)
}
