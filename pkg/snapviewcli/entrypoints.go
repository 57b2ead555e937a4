// Developer/ops CLI for inspecting files through a snapshot session
package snapviewcli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/snapview/pkg/fssnapshot"
	"github.com/function61/snapview/pkg/fswalker"
	"github.com/function61/snapview/pkg/snapregistry"
	"github.com/function61/snapview/pkg/snapsession"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		walkEntrypoint(),
		statEntrypoint(),
		catEntrypoint(),
		orphansEntrypoint(),
		configInitEntrypoint(),
		configPrintEntrypoint(),
	}
}

func walkEntrypoint() *cobra.Command {
	opts := walkOptions{}

	cmd := &cobra.Command{
		Use:   "walk [root...]",
		Short: "Lists everything under roots, as seen through a snapshot",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withManager(func(ctx context.Context, app *app) error {
				return walk(ctx, app, args, opts, os.Stdout)
			}))
		},
	}

	cmd.Flags().BoolVarP(&opts.sort, "sort", "s", opts.sort, "Sort each directory's children")
	cmd.Flags().BoolVarP(&opts.followSymlinks, "follow-symlinks", "L", opts.followSymlinks, "Follow directory symlinks that stay within roots")
	cmd.Flags().BoolVarP(&opts.excludePrunes, "exclude-prunes", "", opts.excludePrunes, "Excluded directories' children are skipped too")
	cmd.Flags().BoolVarP(&opts.jsonOutput, "json", "", opts.jsonOutput, "JSON lines output even on a terminal")
	cmd.Flags().StringVarP(&opts.metricsTextfile, "metrics-textfile", "", opts.metricsTextfile, "Write Prometheus metrics to this file when done")

	return cmd
}

func statEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "stat [root] [path]",
		Short: "Shows one entry with its metadata",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withManager(func(ctx context.Context, app *app) error {
				return snapsession.WithSession(ctx, app.manager, []string{args[0]}, app.conf.SessionConfig(), func(_ context.Context, session *snapsession.Session) error {
					entry, err := session.Stat(args[1])
					if err != nil {
						return err
					}

					kind, err := session.KindFor(args[1])
					if err != nil {
						return err
					}

					return printEntryDetails(entry, kind, os.Stdout)
				})
			}))
		},
	}
}

func catEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "cat [root] [path]",
		Short: "Writes file's content (as of the snapshot) to stdout",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withManager(func(ctx context.Context, app *app) error {
				return snapsession.WithSession(ctx, app.manager, []string{args[0]}, app.conf.SessionConfig(), func(_ context.Context, session *snapsession.Session) error {
					content, err := session.OpenForRead(args[1])
					if err != nil {
						return err
					}
					defer content.Close()

					_, err = io.Copy(os.Stdout, content)
					return err
				})
			}))
		},
	}
}

func orphansEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Snapshots left behind by interrupted runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists orphaned snapshots",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withManager(func(_ context.Context, app *app) error {
				orphans, err := app.manager.ReportOrphans()
				if err != nil {
					return err
				}

				printOrphans(orphans, os.Stdout)
				return nil
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Releases orphaned snapshots",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(withManager(func(ctx context.Context, app *app) error {
				released, err := app.manager.CleanupOrphans(ctx)
				fmt.Printf("released %d orphan(s)\n", released)
				return err
			}))
		},
	})

	return cmd
}

type walkOptions struct {
	sort            bool
	followSymlinks  bool
	excludePrunes   bool
	jsonOutput      bool
	metricsTextfile string
}

func walk(ctx context.Context, app *app, roots []string, opts walkOptions, output io.Writer) error {
	excludes, err := fswalker.GlobPredicate(app.conf.Exclude, app.conf.ExcludeSubtree)
	if err != nil {
		return err
	}

	predicate := excludes
	if opts.followSymlinks {
		predicate = followingSymlinks(excludes)
	}

	if err := snapsession.WithSession(ctx, app.manager, roots, app.conf.SessionConfig(), func(ctx context.Context, session *snapsession.Session) error {
		walker := fswalker.Walk(session, predicate, fswalker.Options{
			ExcludeEntryPrunesChildren: opts.excludePrunes,
			SortChildren:               opts.sort,
		})
		defer walker.Close()

		printer := newEntryPrinter(output, opts.jsonOutput)

		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			entry, more := walker.Next()
			if !more {
				break
			}

			if err := printer.Print(entry); err != nil {
				return err
			}
		}

		if err := printer.Flush(); err != nil {
			return err
		}

		app.logl.Info.Println(summarizeStats(walker.Stats()))

		return nil
	}); err != nil {
		return err
	}

	if opts.metricsTextfile != "" {
		return prometheus.WriteToTextfile(opts.metricsTextfile, app.metrics)
	}

	return nil
}

type app struct {
	conf    *Config
	manager *snapsession.Manager
	metrics *prometheus.Registry
	logl    *logex.Leveled
}

// opens registry & manager, reports orphans from previous runs, and cancels ctx on SIGINT/SIGTERM
func withManager(fn func(ctx context.Context, app *app) error) error {
	logger := logex.StandardLogger()

	conf, err := ReadConfig()
	if err != nil {
		return err
	}

	registry, err := snapregistry.Open(conf.RegistryPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	metrics := prometheus.NewRegistry()

	manager := snapsession.NewManager(snapsession.ManagerOptions{
		Snapshotter: fssnapshot.PlatformSpecificSnapshotter(conf.SnapshotterConfig(), logex.Prefix("fssnapshot", logger)),
		Volumes:     fssnapshot.PlatformVolumeResolver(),
		Registry:    registry,
		Metrics:     snapsession.NewMetrics(metrics),
		Logger:      logex.Prefix("snapsession", logger),
	})

	if _, err := manager.ReportOrphans(); err != nil {
		return err
	}

	return fn(osutil.CancelOnInterruptOrTerminate(logger), &app{
		conf:    conf,
		manager: manager,
		metrics: metrics,
		logl:    logex.Levels(logger),
	})
}
