package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tether/client"
	"github.com/luma/tether/internal/env"
	"github.com/luma/tether/rpc"
)

// The server address client commands connect to
var serverAddr string

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverAddr, "addr", "127.0.0.1:7363", "The address of the tether server")
}

func loadClientEnv(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}

// dial connects to the server. name registers the connection as a node when set.
func dial(ctx context.Context, conf *env.Config, log *zap.Logger, name string, services *rpc.Services) (*client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return client.Dial(dialCtx, serverAddr, client.Options{
		Name:           name,
		Services:       services,
		RequestTimeout: conf.RequestTimeout,
		MaxPayload:     conf.MaxFrameSize,
		ReadBufferSize: conf.ReadBufferSize,
		Log:            log.Named("client"),
	})
}
