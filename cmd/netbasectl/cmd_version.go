package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(_ *cobra.Command, _ []string) error {
		fmt.Printf("netbasectl %s\n", version)
		return nil
	},
}

func init() {
	cmdRoot.AddCommand(cmdVersion)
}
