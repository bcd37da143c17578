package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/pkg/state"
)

func newSnapshotCmd(a *app) *cobra.Command {
	var file, output string
	cmd := &cobra.Command{
		Use:   "snapshot [NAME]",
		Short: "Export a saved configuration",
		Long: `Captures the manifest of the named configuration and writes it to --file,
choosing YAML or JSON from the extension, or to stdout in the --output format.
Derived outputs are not part of the manifest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := firstArg(args)
			meta, _, err := a.load(cmd.Context(), name)
			if err != nil {
				return err
			}
			snap, err := a.inst.Manifest.Snapshot()
			if err != nil {
				return err
			}
			if file == "" {
				if strings.EqualFold(output, "json") {
					return writeJSON(cmd.OutOrStdout(), snap)
				}
				return writeYAML(cmd.OutOrStdout(), snap)
			}
			if err := state.SaveFile(file, snap, meta); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries of %s to %s\n", len(snap.Entries), a.ref(name), file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "write the snapshot to this file")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "stdout format: yaml or json")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "restore [NAME]",
		Short: "Restore a configuration and report each entry",
		Long: `Applies a snapshot through the normal validation path. With --file the
snapshot is read from the file and, once applied, saved as NAME; otherwise the
saved configuration NAME is re-applied.

Entries that fail validation are reported and the rest are still applied.
Entries naming a derived output are flagged and ignored. The command fails
when any entry fails or a formula cannot be evaluated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref := a.ref(firstArg(args))
			out := cmd.OutOrStdout()

			if file == "" {
				report, _, err := a.persister.Restore(ctx, ref)
				if err != nil {
					return err
				}
				writeReport(out, report)
				return report.Err()
			}

			snap, meta, err := state.LoadFile[pv.Snapshot](file)
			if err != nil {
				return err
			}
			report := a.persister.Apply(ctx, snap, meta)
			writeReport(out, report)
			if _, _, err := a.persister.Save(ctx, ref); err != nil {
				return err
			}
			fmt.Fprintf(out, "saved %s\n", ref)
			return report.Err()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the snapshot from this file")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved configurations of the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lister, ok := a.store.(state.Lister)
			if !ok {
				return fmt.Errorf("state backend %s cannot list configurations", a.cfg.State.Backend)
			}
			ctx := cmd.Context()
			refs, err := lister.List(ctx, a.cfg.Namespace)
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no saved configurations for %q\n", a.cfg.Namespace)
				return nil
			}

			rows := make([][]string, 0, len(refs))
			for _, ref := range refs {
				_, meta, found, err := a.store.Load(ctx, ref)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				rows = append(rows, []string{
					ref.Name,
					meta.Extra["entries"],
					meta.ETag,
					humanize.Time(meta.UpdatedAt),
					meta.Extra["actor"],
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), table.New().
				Border(lipgloss.NormalBorder()).
				Headers("NAME", "ENTRIES", "ETAG", "UPDATED", "ACTOR").
				Rows(rows...).
				String())
			return nil
		},
	}
}

func writeReport(w io.Writer, report pv.RestoreReport) {
	fmt.Fprintf(w, "applied %d, skipped %d, failed %d, flagged %d\n",
		len(report.Applied), len(report.Skipped), len(report.Failures), len(report.Flagged))
	for _, failure := range report.Failures {
		fmt.Fprintf(w, "  failed  %s: %v\n", failure.Name, failure.Err)
	}
	for _, flagged := range report.Flagged {
		fmt.Fprintf(w, "  flagged %s: %v\n", flagged.Name, flagged.Err)
	}
	if report.Computation != nil {
		fmt.Fprintf(w, "  computation: %v\n", report.Computation)
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
