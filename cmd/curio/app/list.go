package app

import (
	"github.com/spf13/cobra"

	"github.com/curio-sh/curio/internal/entities"
)

var listCmd = &cobra.Command{
	Use:   "list <category>",
	Short: "List persisted entities without fetching",
	Long: `List prints the entities recorded by previous discovery runs. It reads the
persistent registry only and never touches the network.`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().String("output", outputTable, "Output format (table|json)")
}

func runList(cmd *cobra.Command, args []string) error {
	category, err := entities.ParseCategory(args[0])
	if err != nil {
		return err
	}
	output, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	svc, _, err := newService()
	if err != nil {
		return err
	}

	found, err := svc.ListEntities(cmd.Context(), category)
	if err != nil {
		return err
	}
	return renderEntities(cmd.OutOrStdout(), output, found)
}
