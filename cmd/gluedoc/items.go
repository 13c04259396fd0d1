package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/session"
)

var (
	itemID    string
	itemType  string
	itemLayer string
	itemPos   []float64
	itemSize  []float64
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Add, move and remove viewer items",
}

var itemsAddCmd = &cobra.Command{
	Use:   "add [session] [tab]",
	Short: "Add a viewer item to a tab",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if len(itemPos) != 2 || len(itemSize) != 2 {
			fatal("Invalid geometry", fmt.Errorf("--pos and --size take two values"))
		}
		id := itemID
		if id == "" {
			id = uuid.NewString()
		}
		item := core.NewViewerItem(itemType, [2]float64{itemPos[0], itemPos[1]}, [2]float64{itemSize[0], itemSize[1]}, itemLayer)

		editSession(args[0], func(doc *session.Document) (bool, error) {
			if !doc.HasTab(args[1]) {
				return false, fmt.Errorf("tab %q: %w", args[1], core.ErrNotFound)
			}
			if err := doc.SetTabItem(args[1], id, item); err != nil {
				return false, err
			}
			fmt.Println(id)
			return true, nil
		})
	},
}

var itemsMoveCmd = &cobra.Command{
	Use:   "move [session] [item] [from] [to]",
	Short: "Move a viewer item between tabs in one transaction",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		editSession(args[0], func(doc *session.Document) (bool, error) {
			if !doc.MoveTabItem(args[1], args[2], args[3]) {
				return false, fmt.Errorf("item %q not moved from %q to %q", args[1], args[2], args[3])
			}
			return true, nil
		})
	},
}

var itemsRemoveCmd = &cobra.Command{
	Use:   "remove [session] [tab] [item]",
	Short: "Remove a viewer item",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		editSession(args[0], func(doc *session.Document) (bool, error) {
			return removeItem(doc, args[1], args[2])
		})
	},
}

// removeItem deletes one viewer item, failing with core.ErrNotFound when the
// tab or the item is missing so that nothing gets saved.
func removeItem(doc *session.Document, tab, id string) (bool, error) {
	if len(doc.TabItem(tab, id)) == 0 {
		return false, fmt.Errorf("item %q in tab %q: %w", id, tab, core.ErrNotFound)
	}
	doc.RemoveTabItem(tab, id)
	return true, nil
}

func init() {
	rootCmd.AddCommand(itemsCmd)
	itemsCmd.AddCommand(itemsAddCmd, itemsMoveCmd, itemsRemoveCmd)

	itemsAddCmd.Flags().StringVar(&itemID, "id", "", "Item ID (default: random UUID)")
	itemsAddCmd.Flags().StringVar(&itemType, "type", "scatter", "Viewer type")
	itemsAddCmd.Flags().StringVar(&itemLayer, "layer", "", "Dataset shown by the viewer")
	itemsAddCmd.Flags().Float64SliceVar(&itemPos, "pos", []float64{0, 0}, "Position x,y")
	itemsAddCmd.Flags().Float64SliceVar(&itemSize, "size", []float64{4, 3}, "Size w,h")
}
