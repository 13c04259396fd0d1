package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/gluedoc/pkg/catalog"
	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/session"
)

var (
	linksJSON     bool
	linkData1     string
	linkData2     string
	linkCids1     []string
	linkCids2     []string
	linkLabels1   []string
	linkLabels2   []string
	linkFunction  string
	linkCatalogAt string
)

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List and edit the component links of a session",
}

var linksListCmd = &cobra.Command{
	Use:   "list [session]",
	Short: "List links",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		editSession(args[0], func(doc *session.Document) (bool, error) {
			links := doc.Links()
			if linksJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return false, encoder.Encode(links)
			}
			for _, name := range doc.LinkNames() {
				l := links[name]
				fmt.Printf("%s\t%s\t%s%v -> %s%v\n", name, l.Type, l.Data1, l.Cids1Labels, l.Data2, l.Cids2Labels)
			}
			return false, nil
		})
	},
}

var linksAddCmd = &cobra.Command{
	Use:   "add [session]",
	Short: "Link components of two datasets",
	Long: `Add an identity link between one component of each dataset, or an
advanced link with --function naming an entry of the link catalog.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if linkData1 == "" || linkData2 == "" {
			fatal("Invalid link", fmt.Errorf("--data1 and --data2 are required"))
		}
		if len(linkLabels1) == 0 {
			linkLabels1 = linkCids1
		}
		if len(linkLabels2) == 0 {
			linkLabels2 = linkCids2
		}
		if len(linkCids1) != len(linkLabels1) || len(linkCids2) != len(linkLabels2) {
			fatal("Invalid link", fmt.Errorf("each component id needs a label"))
		}

		link, err := buildLink()
		if err != nil {
			fatal("Invalid link", err)
		}

		editSession(args[0], func(doc *session.Document) (bool, error) {
			name, err := doc.AddLink(link)
			if err != nil {
				return false, err
			}
			fmt.Println(name)
			return true, nil
		})
	},
}

var linksRemoveCmd = &cobra.Command{
	Use:   "remove [session] [name]",
	Short: "Remove a link",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		editSession(args[0], func(doc *session.Document) (bool, error) {
			if _, ok := doc.GetLink(args[1]); !ok {
				return false, fmt.Errorf("link %q: %w", args[1], core.ErrNotFound)
			}
			doc.RemoveLink(args[1])
			return true, nil
		})
	},
}

func buildLink() (core.Link, error) {
	if linkFunction == "" {
		if len(linkCids1) != 1 || len(linkCids2) != 1 {
			return core.Link{}, fmt.Errorf("an identity link takes exactly one component per side")
		}
		return core.IdentityLink(linkData1, linkCids1[0], linkLabels1[0], linkData2, linkCids2[0], linkLabels2[0]), nil
	}

	desc, ok := loadCatalog().Find(linkFunction)
	if !ok {
		return core.Link{}, fmt.Errorf("unknown link function %q", linkFunction)
	}
	if len(desc.Labels1) > 0 && len(linkCids1) != len(desc.Labels1) {
		return core.Link{}, fmt.Errorf("%s expects %d components on the first side", desc.Display, len(desc.Labels1))
	}
	if len(desc.Labels2) > 0 && len(linkCids2) != len(desc.Labels2) {
		return core.Link{}, fmt.Errorf("%s expects %d components on the second side", desc.Display, len(desc.Labels2))
	}
	return desc.Link(linkData1, linkCids1, linkLabels1, linkData2, linkCids2, linkLabels2), nil
}

// loadCatalog fetches the catalog from a server when --catalog is set and
// falls back to the embedded one.
func loadCatalog() catalog.Catalog {
	if linkCatalogAt == "" {
		return catalog.Default()
	}
	cat, err := catalog.NewClient(linkCatalogAt).Fetch(context.Background())
	if err != nil {
		slog.Warn("advanced link catalog unavailable, using embedded catalog", "error", err)
		return catalog.Default()
	}
	return cat
}

func init() {
	rootCmd.AddCommand(linksCmd)
	linksCmd.AddCommand(linksListCmd, linksAddCmd, linksRemoveCmd)

	linksListCmd.Flags().BoolVar(&linksJSON, "json", false, "Output in JSON format")

	linksAddCmd.Flags().StringVar(&linkData1, "data1", "", "First dataset")
	linksAddCmd.Flags().StringVar(&linkData2, "data2", "", "Second dataset")
	linksAddCmd.Flags().StringSliceVar(&linkCids1, "cid1", nil, "Component IDs of the first dataset")
	linksAddCmd.Flags().StringSliceVar(&linkCids2, "cid2", nil, "Component IDs of the second dataset")
	linksAddCmd.Flags().StringSliceVar(&linkLabels1, "label1", nil, "Component labels of the first dataset (default: the IDs)")
	linksAddCmd.Flags().StringSliceVar(&linkLabels2, "label2", nil, "Component labels of the second dataset (default: the IDs)")
	linksAddCmd.Flags().StringVar(&linkFunction, "function", "", "Advanced link function from the catalog")
	linksAddCmd.Flags().StringVar(&linkCatalogAt, "catalog", "", "Server URL to fetch the link catalog from")
}
