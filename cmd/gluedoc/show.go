package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a session",
	Long:  `Show a session by its ID. Prints an outline by default, or the full document with --json.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		ctx := context.Background()
		svc, _ := openWorkspace()
		defer svc.Shutdown(ctx)

		doc, err := svc.Open(ctx, id)
		if err != nil {
			fatal("Failed to open session", err)
		}
		snap := doc.Snapshot()

		if showJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(snap); err != nil {
				fatal("Error encoding JSON", err)
			}
			return
		}

		fmt.Printf("Session %s\n", snap.ID)
		fmt.Printf("Datasets: %d  Attributes: %d  Links: %d\n", len(snap.Dataset), len(snap.Attributes), len(snap.Links))
		for _, tab := range snap.Tabs {
			fmt.Printf("  %s (%d items)\n", tab.Name, len(tab.Items))
			ids := make([]string, 0, len(tab.Items))
			for itemID := range tab.Items {
				ids = append(ids, itemID)
			}
			sort.Strings(ids)
			for _, itemID := range ids {
				kind, _ := tab.Items[itemID]["_type"].(string)
				fmt.Printf("    %s %s\n", itemID, kind)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}
