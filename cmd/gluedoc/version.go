package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/gluedoc"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of gluedoc",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gluedoc version %s\n", strings.TrimSpace(gluedoc.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
