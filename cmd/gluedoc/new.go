package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var newTabs int

var newCmd = &cobra.Command{
	Use:   "new [id]",
	Short: "Create an empty session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		ctx := context.Background()
		svc, _ := openWorkspace()
		defer svc.Shutdown(ctx)

		doc, err := svc.Create(ctx, id)
		if err != nil {
			fatal("Failed to create session", err)
		}
		for i := 0; i < newTabs; i++ {
			doc.AddTab()
		}
		if newTabs > 0 {
			if err := svc.Save(ctx, id); err != nil {
				fatal("Failed to save session", err)
			}
		}
		fmt.Printf("Created session %s\n", id)
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().IntVar(&newTabs, "tabs", 1, "Number of tabs to create")
}
