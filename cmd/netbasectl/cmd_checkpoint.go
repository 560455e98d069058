package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/arnegard/netbase/internal/backend/local"
	"github.com/arnegard/netbase/internal/checkpoint"
	"github.com/arnegard/netbase/internal/config"
	"github.com/arnegard/netbase/internal/errors"
)

var cmdCheckpoint = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect checkpoint files directly",
}

var cmdCheckpointDump = &cobra.Command{
	Use:   "dump dir base",
	Short: "Recover and print the key/value map stored under base in dir",
	Long: `
dump reads the most recent valid checkpoint file named "base_<seq>" under
dir and prints the key/value map it recovers, one "key = value" line per
entry, sorted by key.
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, base := args[0], args[1]
		backend, err := local.Open(local.NewConfig(dir))
		if err != nil {
			return errors.Wrap(err, "open local backend")
		}
		defer backend.Close()

		blockSize := config.DefaultCheckpoint().BlockSize
		if blockSize <= 0 {
			blockSize = 65536
		}
		data, seq, err := checkpoint.ReadCheckpoint(cmd.Context(), backend, base, blockSize)
		if err != nil {
			return errors.Wrap(err, "read checkpoint")
		}

		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if !globalOptions.Quiet {
			fmt.Printf("checkpoint %s, sequence %d, %d keys\n", base, seq, len(keys))
		}
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, data[k])
		}
		return nil
	},
}

func init() {
	cmdCheckpoint.AddCommand(cmdCheckpointDump)
	cmdRoot.AddCommand(cmdCheckpoint)
}
