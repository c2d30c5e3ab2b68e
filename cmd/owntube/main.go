// Package main provides the owntube admin CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/owntube/owntube/internal/app"
	"github.com/owntube/owntube/internal/config"
	"github.com/owntube/owntube/internal/ingest"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/queue"
	"github.com/owntube/owntube/internal/scheduler"
	"github.com/owntube/owntube/internal/tracing"
	"github.com/owntube/owntube/pkg/models"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options carries the persistent flags
type options struct {
	configPath string
}

// newRootCmd creates the root command
func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "owntube",
		Short:         "Mirror video channels into a local library",
		Version:       version,
		SilenceUsage:  true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfig, "path to the configuration file")

	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))
	rootCmd.AddCommand(newFeedCmd(opts))
	rootCmd.AddCommand(newRefreshCmd(opts))
	rootCmd.AddCommand(newDownloadCmd(opts))
	rootCmd.AddCommand(newScheduleCmd(opts))
	rootCmd.AddCommand(newDLQCmd(opts))

	return rootCmd
}

// withApp loads the configuration, wires the application and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return fn(ctx, a)
}

func printReport(cmd *cobra.Command, report *ingest.Report) {
	if report == nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "channels: %d, videos: %d, thumbnail failures: %d, avatar failures: %d\n",
		report.Channels, report.Videos, report.ThumbnailFailures, report.AvatarFailures)
}

// newMigrateCmd creates the migrate subcommand
func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

// newImportCmd creates the import subcommand
func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dump.json>...",
		Short: "Import channel exports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var errs []error
				for _, path := range args {
					report, err := a.Ingest.ImportDumpFile(ctx, path)
					printReport(cmd, report)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", path, err))
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}

// newFeedCmd creates the feed subcommand
func newFeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "feed <channel-id>...",
		Short: "Import the current feed of channels, adding unknown ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var errs []error
				for _, id := range args {
					report, err := a.Ingest.ImportFeed(ctx, id)
					printReport(cmd, report)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", id, err))
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}

// newRefreshCmd creates the refresh subcommand
func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Import the feed of every known channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Ingest.RefreshAll(ctx)
				printReport(cmd, report)
				return err
			})
		},
	}
}

// newDownloadCmd creates the download subcommand
func newDownloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "download <video-id> <height>",
		Short: "Download a video at a target height",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.Atoi(args[1])
			if err != nil || height <= 0 {
				return fmt.Errorf("invalid height %q: must be a positive integer", args[1])
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				v, err := a.Videos.Load(ctx, args[0], nil)
				if err != nil {
					return err
				}

				d, err := a.Downloads.Download(ctx, v, height)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%dx%d, %d bytes)\n", d.StoragePath(), d.Width, d.Height, d.Filesize)
				return nil
			})
		},
	}
}

// newScheduleCmd creates the schedule subcommand
func newScheduleCmd(opts *options) *cobra.Command {
	var useQueue bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Refresh every channel periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var publisher scheduler.JobPublisher = scheduler.PublisherFunc(a.HandleJob)
				if useQueue {
					q, err := a.OpenQueue()
					if err != nil {
						return err
					}
					defer q.Close()
					publisher = q
				}

				s := scheduler.NewScheduler(a.Catalog, publisher, a.Config.Scheduler.Interval, a.Logger)
				if err := s.Start(ctx); err != nil {
					return err
				}

				<-ctx.Done()
				s.Stop()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&useQueue, "queue", false, "publish refresh jobs to the job queue instead of running them inline")

	return cmd
}

// deadLetters is the dead letter side of the job queue
type deadLetters interface {
	ProcessDLQ(ctx context.Context, fn func(ctx context.Context, dl *queue.DeadLetter) (bool, error)) (int, error)
	RetryFromDLQ(ctx context.Context, job *models.Job) error
}

func printDeadLetter(w io.Writer, dl *queue.DeadLetter) {
	target := dl.Job.ChannelID
	switch dl.Job.Type {
	case models.JobTypeDownload:
		target = fmt.Sprintf("%s@%d", dl.Job.VideoID, dl.Job.Height)
	case models.JobTypeIngestDump:
		target = dl.Job.Path
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", dl.Job.ID, dl.Job.Type, target, dl.Job.RetryCount, dl.FailedAt, dl.Reason)
}

// listDeadLetters prints every dead-lettered job and leaves it in place
func listDeadLetters(ctx context.Context, w io.Writer, q deadLetters) error {
	n, err := q.ProcessDLQ(ctx, func(ctx context.Context, dl *queue.DeadLetter) (bool, error) {
		printDeadLetter(w, dl)
		return false, nil
	})
	fmt.Fprintf(w, "%d dead-lettered jobs\n", n)
	return err
}

// retryDeadLetters requeues the dead-lettered jobs with the given ids, or
// all of them when ids is empty.
func retryDeadLetters(ctx context.Context, w io.Writer, q deadLetters, ids []string) error {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	retried := 0
	_, err := q.ProcessDLQ(ctx, func(ctx context.Context, dl *queue.DeadLetter) (bool, error) {
		if len(wanted) > 0 && !wanted[dl.Job.ID] {
			return false, nil
		}
		if err := q.RetryFromDLQ(ctx, dl.Job); err != nil {
			return false, err
		}
		retried++
		return true, nil
	})
	fmt.Fprintf(w, "%d jobs requeued\n", retried)
	return err
}

// newDLQCmd creates the dlq subcommand
func newDLQCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry jobs in the dead letter queue",
	}

	withQueue := func(cmd *cobra.Command, fn func(ctx context.Context, q *queue.Queue) error) error {
		return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
			q, err := a.OpenQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			return fn(ctx, q)
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				return listDeadLetters(ctx, cmd.OutOrStdout(), q)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry [job-id]...",
		Short: "Requeue dead-lettered jobs with a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, func(ctx context.Context, q *queue.Queue) error {
				return retryDeadLetters(ctx, cmd.OutOrStdout(), q, args)
			})
		},
	})

	return cmd
}
