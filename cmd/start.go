package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tether/internal/admin"
	"github.com/luma/tether/internal/env"
	"github.com/luma/tether/rpc"
	"github.com/luma/tether/server"
	"github.com/luma/tether/storage"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for tcp clients on
	port int

	numListeners int
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7363, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.IntVar(&numListeners, "listeners", 0, "The number of SO_REUSEPORT listeners, one per CPU when 0")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the tether duplex server",
	Long: `Start up the tether duplex server

Nodes register with the server by name, and any connection can reach them
through call_node. The server also serves kv.get, kv.set and kv.delete, and
sends every change to all nodes as a kv.updated notice.

Usage
	tether start

`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		services := rpc.NewServices()
		services.Use(rpc.LoggingMiddleware(log.Named("rpc")))
		if conf.RateLimit > 0 {
			services.Use(rpc.RateLimitMiddleware(conf.RateLimit, conf.RateBurst))
		}

		store := storage.NewInmemoryStore(log.Named("store"))
		defer store.Close()

		storage.NewService(store, log.Named("kv")).Register(services)

		duplex := server.NewDuplex(server.DuplexOptions{
			Options: server.Options{
				Host:           host,
				Port:           port,
				Reuseport:      true,
				NumListeners:   numListeners,
				RequestTimeout: conf.RequestTimeout,
				MaxFrameSize:   conf.MaxFrameSize,
				ReadBufferSize: conf.ReadBufferSize,
				Trace:          conf.Trace,
				Services:       services,
				Log:            log.Named("server"),
			},
		})

		go storage.Publish(store.ListenToUpdates(), duplex.Broadcast, log.Named("kv"))

		if err := duplex.Start(ctx); err != nil {
			return err
		}

		router := admin.NewRouter(duplex, admin.Options{
			Debug:       conf.DebugHTTP,
			CallTimeout: conf.RequestTimeout,
			Log:         log.Named("http"),
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Strings("addrs", addrStrings(duplex.Addrs())),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(ctx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := duplex.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func addrStrings(addrs []net.Addr) []string {
	strs := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		strs = append(strs, addr.String())
	}

	return strs
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
