package main

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	pv "github.com/goliatone/go-pvscan"
)

func newGetCmd(a *app) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "get [NAME...]",
		Short: "Print parameter values",
		Long: `Prints NAME=VALUE for each named parameter, or for every parameter when no
name is given. Values are formatted with the parameter precision and labels;
unset parameters print an empty value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := a.load(cmd.Context(), ""); err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = a.inst.Store.Names()
			}
			return a.printValues(cmd.OutOrStdout(), names, full)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print namespaced names")
	return cmd
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME=VALUE...",
		Short: "Write parameters and save the configuration",
		Long: `Writes every assignment as one update, so dependent outputs are recomputed
once, then saves the configuration selected by --name.

Bool and enum parameters accept an index or a label:
  pvscan set InterlacedScan=Yes AcquirePostScan=0

A formula that cannot be evaluated, such as NumOfAngles with a zero
RotationStep, keeps its previous value; the inputs are still written and a
warning is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, _, err := a.load(ctx, ""); err != nil {
				return err
			}

			type assignment struct {
				name  string
				value any
			}
			assignments := make([]assignment, 0, len(args))
			for _, arg := range args {
				name, raw, err := parseAssignment(arg)
				if err != nil {
					return err
				}
				param, err := a.inst.Store.Parameter(name)
				if err != nil {
					return err
				}
				value, err := parseValue(param, raw)
				if err != nil {
					return err
				}
				assignments = append(assignments, assignment{name: param.Name, value: value})
			}

			err := a.inst.Store.Update(func(tx *pv.Tx) error {
				for _, item := range assignments {
					if err := tx.Set(item.name, item.value); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil && !errors.Is(err, pv.ErrComputation) {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}

			if _, _, err := a.persister.Save(ctx, a.ref("")); err != nil {
				return err
			}

			names := make([]string, 0, len(assignments))
			for _, item := range assignments {
				names = append(names, item.name)
			}
			for _, output := range a.inst.Engine.Outputs() {
				if !slices.Contains(names, output) {
					names = append(names, output)
				}
			}
			return a.printValues(cmd.OutOrStdout(), names, false)
		},
	}
}

func (a *app) printValues(w io.Writer, names []string, full bool) error {
	for _, name := range names {
		param, err := a.inst.Store.Parameter(name)
		if err != nil {
			return err
		}
		label := param.Name
		if full {
			label = a.inst.Store.FullName(param.Name)
		}
		value := ""
		if param.Value.IsSet() {
			value = param.Format()
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", label, value); err != nil {
			return err
		}
	}
	return nil
}
