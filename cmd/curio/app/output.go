package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/curio-sh/curio/internal/entities"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// outputFormat reads and validates the command's --output flag
func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return "", fmt.Errorf("failed to read output flag: %w", err)
	}
	if format != outputTable && format != outputJSON {
		return "", fmt.Errorf("unsupported output format %q (expected table or json)", format)
	}
	return format, nil
}

func renderJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// renderEntities prints a discovery or list result in the chosen format
func renderEntities(w io.Writer, format string, list []entities.Entity) error {
	if format == outputJSON {
		return renderJSON(w, list)
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No entities found")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"KEY", "NAME", "DESCRIPTION", "BRANCH", "INSTALLED"})
	for _, e := range list {
		row := []string{e.Key, e.Name, e.Description, e.SourceBranch, yesNo(e.Installed)}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
