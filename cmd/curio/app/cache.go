package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the fetch cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every cached source document and repository scan",
	Args:  cobra.NoArgs,
	RunE:  runCachePurge,
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "List cached entries with size and freshness",
	Args:  cobra.NoArgs,
	RunE:  runCacheInfo,
}

func init() {
	cacheInfoCmd.Flags().String("output", outputTable, "Output format (table|json)")
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheInfoCmd)
}

func runCachePurge(cmd *cobra.Command, _ []string) error {
	svc, _, err := newService()
	if err != nil {
		return err
	}

	removed, err := svc.PurgeCache()
	if err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)
	return err
}

func runCacheInfo(cmd *cobra.Command, _ []string) error {
	output, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	svc, _, err := newService()
	if err != nil {
		return err
	}

	infos, err := svc.CacheInfo()
	if err != nil {
		return fmt.Errorf("failed to read cache info: %w", err)
	}

	if output == outputJSON {
		return renderJSON(cmd.OutOrStdout(), infos)
	}
	if len(infos) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty")
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header([]string{"KEY", "SIZE", "FETCHED", "FRESH"})
	for _, info := range infos {
		row := []string{
			info.Key,
			strconv.FormatInt(info.Size, 10),
			info.FetchedAt.Format(time.RFC3339),
			yesNo(info.Fresh),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
