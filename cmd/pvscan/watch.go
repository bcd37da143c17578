package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/pkg/state"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		file     string
		autosave time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-apply a snapshot file whenever it changes",
		Long: `Restores the configuration selected by --name, then re-applies --file every
time it is written, reporting each restore. With an autosave interval the
configuration is saved periodically and once more on exit, skipping saves
when nothing changed. Stops on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			if !cmd.Flags().Changed("autosave") {
				autosave = a.cfg.State.Autosave
			}

			ctx := cmd.Context()
			if _, _, err := a.load(ctx, ""); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ref := a.ref("")

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.persister.Watch(ctx, file, func(report pv.RestoreReport, err error) {
					if err != nil {
						fmt.Fprintf(out, "%s: %v\n", file, err)
						return
					}
					writeReport(out, report)
				})
			})
			if autosave > 0 {
				g.Go(func() error {
					return a.persister.Autosave(ctx, ref, autosave, func(meta state.Meta, err error) {
						if err != nil {
							fmt.Fprintf(out, "autosave %s: %v\n", ref, err)
							return
						}
						fmt.Fprintf(out, "saved %s etag %s\n", ref, meta.ETag)
					})
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot file to watch")
	cmd.Flags().DurationVar(&autosave, "autosave", 0, "save interval (default from config, 0 disables)")
	return cmd
}
