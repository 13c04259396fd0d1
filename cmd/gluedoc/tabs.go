package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/session"
)

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List and edit the tabs of a session",
}

var tabsListCmd = &cobra.Command{
	Use:   "list [session]",
	Short: "List tabs in order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		editSession(args[0], func(doc *session.Document) (bool, error) {
			for i, name := range doc.TabNames() {
				items, _ := doc.TabData(name)
				fmt.Printf("%d\t%s\t%d items\n", i, name, len(items))
			}
			return false, nil
		})
	},
}

var tabsAddCmd = &cobra.Command{
	Use:   "add [session]",
	Short: "Add a tab with the next free default name",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		editSession(args[0], func(doc *session.Document) (bool, error) {
			fmt.Println(doc.AddTab())
			return true, nil
		})
	},
}

var tabsRemoveCmd = &cobra.Command{
	Use:   "remove [session] [tab]",
	Short: "Remove a tab and its viewer items",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		editSession(args[0], func(doc *session.Document) (bool, error) {
			if !doc.HasTab(args[1]) {
				return false, fmt.Errorf("tab %q: %w", args[1], core.ErrNotFound)
			}
			doc.RemoveTab(args[1])
			return true, nil
		})
	},
}

func init() {
	rootCmd.AddCommand(tabsCmd)
	tabsCmd.AddCommand(tabsListCmd, tabsAddCmd, tabsRemoveCmd)
}
