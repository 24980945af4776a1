package rpc_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/luma/tether/rpc"
)

var _ = Describe("Services", func() {
	var services *rpc.Services
	ctx := context.Background()

	BeforeEach(func() {
		services = rpc.NewServices()
		services.Handle("add", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return args[0].(int) + args[1].(int), nil
		})
	})

	It("invokes handlers by name", func() {
		Expect(services.Invoke(ctx, "add", 1, 2)).To(Equal(3))
	})

	It("fails unknown methods with ErrUnknownMethod", func() {
		_, err := services.Invoke(ctx, "subtract", 1, 2)
		Expect(err).To(MatchError(rpc.ErrUnknownMethod))
	})

	It("turns a panicking handler into an error", func() {
		_, err := services.Invoke(ctx, "add", "not", "ints")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("add panicked"))
	})

	It("passes the connection to connection-aware handlers", func() {
		conn := rpc.NewConn(newRecorder(), rpc.ConnOptions{})
		services.HandleConn("whoami", func(ctx context.Context, c *rpc.Conn, args ...interface{}) (interface{}, error) {
			return c == conn, nil
		})

		Expect(services.InvokeWithConn(ctx, "whoami", conn)).To(BeTrue())
	})

	It("falls back to plain handlers for connection-aware invocations", func() {
		conn := rpc.NewConn(newRecorder(), rpc.ConnOptions{})
		Expect(services.InvokeWithConn(ctx, "add", conn, 2, 2)).To(Equal(4))
	})

	It("lists its methods", func() {
		services.HandleConn(rpc.RegisterMethod, func(ctx context.Context, c *rpc.Conn, args ...interface{}) (interface{}, error) {
			return true, nil
		})

		Expect(services.Methods()).To(ConsistOf("add", rpc.RegisterMethod))
	})

	Describe("middleware", func() {
		It("runs middlewares in the order they were added", func() {
			order := make([]string, 0)
			trace := func(name string) rpc.Middleware {
				return func(next rpc.Handler) rpc.Handler {
					return func(ctx context.Context, inv *rpc.Invocation) (interface{}, error) {
						order = append(order, name+" before")
						ret, err := next(ctx, inv)
						order = append(order, name+" after")
						return ret, err
					}
				}
			}

			services.Use(trace("a"), trace("b"))
			Expect(services.Invoke(ctx, "add", 1, 1)).To(Equal(2))
			Expect(order).To(Equal([]string{"a before", "b before", "b after", "a after"}))
		})

		It("logs failed invocations", func() {
			core, logs := observer.New(zapcore.DebugLevel)
			services.Use(rpc.LoggingMiddleware(zap.New(core)))
			services.Handle("fail", func(ctx context.Context, args ...interface{}) (interface{}, error) {
				return nil, errors.New("boom")
			})

			_, err := services.Invoke(ctx, "fail")
			Expect(err).To(MatchError("boom"))

			entries := logs.FilterMessage("Invocation failed").All()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ContextMap()).To(HaveKeyWithValue("method", "fail"))
		})

		It("rejects invocations over the rate limit", func() {
			services.Use(rpc.RateLimitMiddleware(1, 2))

			for i := 0; i < 2; i++ {
				_, err := services.Invoke(ctx, "add", 1, 1)
				Expect(err).To(Succeed())
			}

			_, err := services.Invoke(ctx, "add", 1, 1)
			Expect(err).To(MatchError(rpc.ErrRateLimited))
		})
	})
})
