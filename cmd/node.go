package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tether/internal/meta"
	"github.com/luma/tether/rpc"
	"github.com/luma/tether/storage"
)

func init() {
	addClientFlags(NodeCmd)
}

var NodeCmd = &cobra.Command{
	Use:   "node NAME",
	Short: "Register with the server as a node and serve calls",
	Long: `Register with the server as a node named NAME and serve the calls routed
to it until interrupted. The node answers echo and info, and logs every
kv.updated notice the server sends.

Usage
	tether node worker1

`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := loadClientEnv(ctx)
		if err != nil {
			return err
		}

		c, err := dial(ctx, conf, log, args[0], nodeServices(log.Named("node")))
		if err != nil {
			return err
		}
		defer c.Close()

		log.Info("Registered", zap.String("name", args[0]), zap.String("addr", serverAddr))

		select {
		case <-ctx.Done():
			log.Info("Exiting")

		case <-c.Done():
			log.Warn("Server closed the connection")
		}

		return nil
	},
}

// nodeServices are the methods a node serves.
func nodeServices(log *zap.Logger) *rpc.Services {
	services := rpc.NewServices()

	services.Handle("echo", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		if len(args) == 1 {
			return args[0], nil
		}
		return args, nil
	})

	services.Handle("info", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return meta.GetInfo().String(), nil
	})

	services.Handle(storage.MethodUpdated, func(ctx context.Context, args ...interface{}) (interface{}, error) {
		key, err := rpc.StringArg(args, 0)
		if err != nil {
			return nil, err
		}

		var value interface{}
		if len(args) > 1 {
			value = args[1]
		}

		log.Info("Key updated", zap.String("key", key), zap.Any("value", value))
		return nil, nil
	})

	return services
}
