package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/pkg/schema/openapi"
)

func newDescribeCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Describe every declared parameter",
		Long: `Lists every declared parameter in declaration order with its kind, current
value and whether it is a derived output. Values reflect the saved
configuration selected by --name, or the declared defaults.

Output formats:
  table    aligned columns (default)
  json     field descriptors as JSON
  yaml     field descriptors as YAML
  openapi  an OpenAPI document for a parameter update request`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := a.load(cmd.Context(), ""); err != nil {
				return err
			}
			fields := a.inst.Store.Describe()
			return writeFields(cmd.OutOrStdout(), output, fields, a.cfg.Namespace)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json, yaml or openapi")
	return cmd
}

func writeFields(w io.Writer, output string, fields []pv.FieldDescriptor, namespace string) error {
	switch strings.ToLower(output) {
	case "", "table":
		_, err := fmt.Fprintln(w, fieldTable(fields))
		return err
	case "json":
		return writeJSON(w, fields)
	case "yaml":
		return writeYAML(w, fields)
	case "openapi":
		doc, err := openapi.Generate(fields,
			openapi.WithInfo("Scan Parameters", "1.0.0", "Scan parameters of "+namespace),
		)
		if err != nil {
			return err
		}
		return writeJSON(w, doc)
	}
	return fmt.Errorf("unknown output format %q", output)
}

func fieldTable(fields []pv.FieldDescriptor) string {
	rows := make([][]string, 0, len(fields))
	for _, field := range fields {
		value := field.Display
		if !field.Set {
			value = "-"
		}
		flags := ""
		if field.Derived {
			flags = "derived"
		}
		rows = append(rows, []string{field.Name, field.Kind, value, flags, field.Description})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "KIND", "VALUE", "FLAGS", "DESCRIPTION").
		Rows(rows...).
		String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
