package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		ctx := context.Background()
		svc, _ := openWorkspace()
		defer svc.Shutdown(ctx)

		if err := svc.Delete(ctx, id); err != nil {
			fatal("Failed to delete session", err)
		}
		fmt.Printf("Deleted session %s\n", id)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
