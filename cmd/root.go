package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/tether/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Bidirectional RPC over TCP",
	Long: `tether runs a duplex RPC server that nodes register with by name, and the
clients that register as nodes, call methods and send notices.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(NodeCmd)
	RootCmd.AddCommand(CallCmd)
	RootCmd.AddCommand(NoticeCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
