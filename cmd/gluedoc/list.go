package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions in the workspace",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, _ := openWorkspace()
		defer svc.Shutdown(ctx)

		summaries, err := svc.List(ctx)
		if err != nil {
			fatal("Error listing sessions", err)
		}

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(summaries); err != nil {
				fatal("Error encoding JSON", err)
			}
			return
		}

		for _, s := range summaries {
			fmt.Printf("%s - tabs: %s, datasets: %d, links: %d\n", s.ID, strings.Join(s.Tabs, ", "), len(s.Datasets), s.Links)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
}
