package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luma/tether/rpc"
)

// Route the call to this node rather than the server
var callNode string

func init() {
	addClientFlags(CallCmd)
	CallCmd.Flags().StringVarP(&callNode, "node", "n", "", "Call the method on this registered node")

	addClientFlags(NoticeCmd)
}

var CallCmd = &cobra.Command{
	Use:   "call METHOD [ARGS...]",
	Short: "Call a method and print its result",
	Long: `Call a method on the server, or on a registered node with --node, and
print its result as JSON. Arguments that are valid JSON are sent as the value
they encode, anything else is sent as a string.

Usage
	tether call kv.set greeting '"hello"'
	tether call --node worker1 echo 42

`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := loadClientEnv(ctx)
		if err != nil {
			return err
		}

		c, err := dial(ctx, conf, log, "", nil)
		if err != nil {
			return err
		}
		defer c.Close()

		var pending *rpc.Result
		if callNode != "" {
			pending = c.CallNode(callNode, args[0], parseArgs(args[1:])...)
		} else {
			pending = c.Call(args[0], parseArgs(args[1:])...)
		}

		result, err := pending.Wait(ctx)
		if err != nil {
			return err
		}

		out, err := formatResult(result)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var NoticeCmd = &cobra.Command{
	Use:   "notice METHOD [ARGS...]",
	Short: "Send a notice, which is never answered",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		conf, log, err := loadClientEnv(ctx)
		if err != nil {
			return err
		}

		c, err := dial(ctx, conf, log, "", nil)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Notice(args[0], parseArgs(args[1:])...)
	},
}
