package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yieldera/datahub/internal/extract"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the dataset catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := extract.LoadCatalog()
		if err != nil {
			return err
		}
		for _, d := range cat.List() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-28s %s, %.2f°, max %d days\n",
				d.ID, d.Collection, d.Granularity, d.ResolutionDeg, d.MaxSpanDays)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
}
