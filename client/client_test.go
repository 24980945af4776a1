package client_test

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/tether/client"
	"github.com/luma/tether/rpc"
	"github.com/luma/tether/server"
)

var _ = Describe("Client", func() {
	var (
		duplex *server.Duplex
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		services := rpc.NewServices()
		services.Handle("sum", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			total := int64(0)
			for _, arg := range args {
				switch n := arg.(type) {
				case int64:
					total += n
				case uint64:
					total += int64(n)
				default:
					return nil, rpc.ErrBadArguments
				}
			}
			return total, nil
		})

		duplex = server.NewDuplex(server.DuplexOptions{
			Options: server.Options{
				Host:         "127.0.0.1",
				NumListeners: 1,
				Services:     services,
			},
		})
		Expect(duplex.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		duplex.Close()
		cancel()
	})

	Describe("Dial()", func() {
		It("connects without registering when no name is given", func() {
			c, err := client.Dial(ctx, duplex.Addr(), client.Options{})
			Expect(err).To(Succeed())
			defer c.Close()

			Expect(c.Call("sum", 1, 2, 3).Wait(ctx)).To(BeEquivalentTo(6))
			Expect(duplex.Nodes()).To(BeEmpty())
		})

		It("registers the name it is given", func() {
			c, err := client.Dial(ctx, duplex.Addr(), client.Options{Name: "worker"})
			Expect(err).To(Succeed())
			defer c.Close()

			Expect(duplex.Nodes()).To(ConsistOf("worker"))
		})

		It("fails and disconnects when the name is already taken", func() {
			first, err := client.Dial(ctx, duplex.Addr(), client.Options{Name: "worker"})
			Expect(err).To(Succeed())
			defer first.Close()

			closed := make(chan struct{})
			_, err = client.Dial(ctx, duplex.Addr(), client.Options{
				Name:     "worker",
				OnClosed: func() { close(closed) },
			})
			Expect(err).To(MatchError(client.ErrRegisterRejected))
			Eventually(closed).Should(BeClosed())

			Expect(duplex.Nodes()).To(ConsistOf("worker"))
		})

		It("fails when nobody is listening", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())
			addr := ln.Addr().String()
			ln.Close()

			_, err = client.Dial(ctx, addr, client.Options{})
			Expect(err).To(HaveOccurred())
		})
	})

	It("answers calls the server routes to it", func() {
		services := rpc.NewServices()
		services.Handle("whoami", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return "worker", nil
		})

		c, err := client.Dial(ctx, duplex.Addr(), client.Options{Name: "worker", Services: services})
		Expect(err).To(Succeed())
		defer c.Close()

		Expect(duplex.CallNode("worker", "whoami").Wait(ctx)).To(Equal("worker"))
	})

	It("sends notices without waiting for an answer", func() {
		heard := make(chan interface{}, 1)
		duplex.Services().Handle("ping", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			heard <- args[0]
			return nil, nil
		})

		c, err := client.Dial(ctx, duplex.Addr(), client.Options{})
		Expect(err).To(Succeed())
		defer c.Close()

		Expect(c.Notice("ping", "pong")).To(Succeed())
		Eventually(heard).Should(Receive(Equal("pong")))
	})

	It("delivers a notice sent right before closing", func() {
		var heard int32
		duplex.Services().Handle("log", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			atomic.AddInt32(&heard, 1)
			return nil, nil
		})

		const sends = 20
		for i := 0; i < sends; i++ {
			c, err := client.Dial(ctx, duplex.Addr(), client.Options{})
			Expect(err).To(Succeed())

			Expect(c.Notice("log", "hi")).To(Succeed())
			Expect(c.Close()).To(Succeed())
		}

		Eventually(func() int32 { return atomic.LoadInt32(&heard) }).Should(BeEquivalentTo(sends))
	})

	It("fails pending calls and reports the close when the server goes away", func() {
		duplex.Services().Handle("hang", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return rpc.NewResult(), nil
		})

		closed := make(chan struct{})
		c, err := client.Dial(ctx, duplex.Addr(), client.Options{OnClosed: func() { close(closed) }})
		Expect(err).To(Succeed())

		pending := c.Call("hang")
		Eventually(func() int { return len(duplex.Conns()) }).Should(Equal(1))

		Expect(duplex.Close()).To(Succeed())

		_, err = pending.Wait(ctx)
		Expect(err).To(MatchError(rpc.ErrConnClosed))
		Eventually(closed).Should(BeClosed())
		Eventually(c.Done()).Should(BeClosed())
	})
})
