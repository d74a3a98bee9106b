package app

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve a marketplace name to its repository",
	Long: `Resolve maps a user-facing marketplace name to the repository it identifies.
The name may be a registry key (owner/repo:name), a display name, or a
configured alias; display names and aliases match case-insensitively.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("output", outputTable, "Output format (table|json)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	output, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	svc, _, err := newService()
	if err != nil {
		return err
	}

	repo, err := svc.ResolveMarketplace(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if output == outputJSON {
		return renderJSON(cmd.OutOrStdout(), repo)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header([]string{"REPOSITORY", "BRANCH", "CLONE URL"})
	if err := table.Append([]string{repo.ID(), repo.Branch, repo.CloneURL()}); err != nil {
		return err
	}
	return table.Render()
}
