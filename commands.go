package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sopdesk/internal/activity"
	"sopdesk/internal/attach"
	"sopdesk/internal/config"
	"sopdesk/internal/database"
	"sopdesk/internal/dbsync"
	"sopdesk/internal/export"
	"sopdesk/internal/records"
	"sopdesk/internal/validation"
)

// openRecords opens the local database and the record service over it.
func openRecords(cfg *config.Config) (*records.Service, func(), error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	files, err := attach.NewStore(attach.DirsFromConfig(cfg.Attachments))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	svc := records.New(db, files, activity.New(db, nil), nil, nil)
	svc.CaseSensitive = cfg.Search.CaseSensitive
	return svc, func() { db.Close() }, nil
}

// openShareSnapshot opens a private copy of the share database over files.
// It returns a nil service when no share is configured or the share file
// does not exist yet.
func openShareSnapshot(ctx context.Context, cfg *config.Config, files *attach.Store) (*records.Service, func(), error) {
	noop := func() {}
	if cfg.Database.SharePath == "" {
		return nil, noop, nil
	}
	dir, err := os.MkdirTemp("", "sopdesk-share-*")
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	snap := filepath.Join(dir, filepath.Base(cfg.Database.SharePath))
	ok, err := dbsync.Snapshot(ctx, cfg.Database.SharePath, snap)
	if err != nil || !ok {
		cleanup()
		return nil, noop, err
	}
	db, err := database.Open(snap)
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("open share snapshot: %w", err)
	}
	svc := records.New(db, files, activity.New(db, nil), nil, nil)
	svc.CaseSensitive = cfg.Search.CaseSensitive
	return svc, func() { db.Close(); cleanup() }, nil
}

func exportCmd(g *globalFlags) *cobra.Command {
	var format, output, keyword, order string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records as CSV or Excel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ve := &validation.ValidationErrors{}
			validation.ValidateEnum(ve, "format", format, validation.ValidExportFormats)
			validation.ValidateEnum(ve, "order", order, validation.ValidSortOrders)
			if err := ve.Err(); err != nil {
				return err
			}
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			svc, closeDB, err := openRecords(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			// The share holds other clients' records unless this machine
			// still has changes that were never checked in.
			source := svc
			if cfg.Database.SharePath != "" {
				if dbsync.New(cfg.Database.SharePath, cfg.Database.Path, logger).Pending() {
					logger.Warn("Local database has changes that were never checked in; exporting the local copy")
				} else {
					shared, closeShare, err := openShareSnapshot(cmd.Context(), cfg, svc.Files)
					if err != nil {
						return err
					}
					defer closeShare()
					if shared != nil {
						source = shared
					}
				}
			}

			list, err := source.Query(cmd.Context(), records.Query{Keyword: keyword, Ascending: order == "asc"})
			if err != nil {
				return err
			}

			if output == "" {
				output = export.Filename(format, time.Now())
			}
			var w io.Writer = os.Stdout
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			cw := &countingWriter{w: w}
			if err := export.Write(cw, format, list); err != nil {
				return err
			}
			if output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d records to %s (%s)\n", len(list), output, humanize.Bytes(uint64(cw.n)))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatCSV, "Output format (csv, xlsx)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file; - for stdout (default records_<timestamp>.<format>)")
	cmd.Flags().StringVarP(&keyword, "query", "q", "", "Only export records matching this keyword")
	cmd.Flags().StringVar(&order, "order", "desc", "Sort by created_at (asc, desc)")
	return cmd
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func sweepCmd(g *globalFlags) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "List (or delete) stored documents no record refers to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(g)
			if err != nil {
				return err
			}
			svc, closeDB, err := openRecords(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			shared, closeShare, err := openShareSnapshot(cmd.Context(), cfg, svc.Files)
			if err != nil {
				return err
			}
			defer closeShare()
			sources := []*records.Service{svc}
			if shared != nil {
				sources = append(sources, shared)
			}
			return sweep(cmd.Context(), cmd.OutOrStdout(), remove, sources...)
		},
	}
	cmd.Flags().BoolVar(&remove, "delete", false, "Delete the orphaned files instead of only listing them")
	return cmd
}

// sweep reports documents no record in any of sources refers to. The first
// source's store is swept.
func sweep(ctx context.Context, out io.Writer, remove bool, sources ...*records.Service) error {
	refs := map[string]bool{}
	for _, svc := range sources {
		r, err := svc.ReferencedPaths(ctx)
		if err != nil {
			return err
		}
		for p := range r {
			refs[p] = true
		}
	}
	orphans, err := sources[0].Files.Sweep(ctx, refs, remove)
	if err != nil {
		return err
	}

	var total int64
	for _, o := range orphans {
		total += o.Size
		fmt.Fprintf(out, "%-14s %8s  %-14s %s\n", o.Category, humanize.Bytes(uint64(o.Size)), humanize.Time(o.ModTime), o.Path)
	}
	verb := "found"
	if remove {
		verb = "deleted"
	}
	fmt.Fprintf(out, "%d orphaned documents %s, %s\n", len(orphans), verb, humanize.Bytes(uint64(total)))
	return nil
}

func checkinCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkin",
		Short: "Copy the local database to the share, overwriting the share file",
		Long: `checkin pushes the local working copy to database.share_path even if the
share changed since the last checkout. Use it after a refused checkin to keep
the local changes; the other client's changes on the share are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(g)
			if err != nil {
				return err
			}
			if cfg.Database.SharePath == "" {
				return fmt.Errorf("database.share_path is not configured")
			}

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			err = database.Checkpoint(cmd.Context(), db)
			db.Close()
			if err != nil {
				return err
			}

			replica := dbsync.New(cfg.Database.SharePath, cfg.Database.Path, logger)
			if err := replica.Adopt(); err != nil {
				return err
			}
			return replica.Checkin(cmd.Context(), false)
		},
	}
}
