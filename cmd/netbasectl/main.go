package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arnegard/netbase/internal/debug"
)

var version = "0.1.0 (compiled manually)"

var cmdRoot = &cobra.Command{
	Use:   "netbasectl",
	Short: "Inspect and drive netbase-backed storage",
	Long: `
netbasectl operates the storage layer underneath a netbase deployment: it
reads checkpoint files directly, and can stand up a state
keeper against a backend for ad-hoc testing.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

// GlobalOptions holds flags shared by every subcommand.
type GlobalOptions struct {
	Quiet bool
}

var globalOptions GlobalOptions

func init() {
	f := cmdRoot.PersistentFlags()
	f.BoolVarP(&globalOptions.Quiet, "quiet", "q", false, "suppress progress output")
}

func createGlobalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-ch
		debug.Log("cli", "signal %v received, cancelling", s)
		fmt.Fprintf(os.Stderr, "\rsignal %v received, cleaning up\n", s)
		cancel()
	}()

	return ctx
}

// Exit terminates the process with the given exit code.
func Exit(code int) {
	debug.Log("cli", "exiting with status code %d", code)
	os.Exit(code)
}

func main() {
	ctx := createGlobalContext()
	err := cmdRoot.ExecuteContext(ctx)
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "netbasectl: %v\n", err)
	Exit(1)
}
