package rpc_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/tether/protocol"
	"github.com/luma/tether/rpc"
)

var _ = Describe("Conn", func() {
	var (
		services *rpc.Services
		client   *rpc.Conn
		server   *rpc.Conn
		toServer *link
		toClient *link
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		services = rpc.NewServices()
		services.Handle("echo", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return args[0], nil
		})
		services.Handle("fail", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		})
	})

	JustBeforeEach(func() {
		client, server, toServer, toClient = connect(
			rpc.ConnOptions{RequestTimeout: 2 * time.Second},
			rpc.ConnOptions{Service: services},
		)
	})

	AfterEach(func() {
		client.Close()
		cancel()
	})

	Describe("Call()", func() {
		It("completes with the result of the remote handler", func() {
			Expect(client.Call("echo", 42).Wait(ctx)).To(BeEquivalentTo(42))
			Expect(client.Pending()).To(BeZero())
		})

		It("fails with the error text of the remote handler", func() {
			_, err := client.Call("fail").Wait(ctx)
			Expect(err).To(MatchError("boom"))
			Expect(rpc.IsRemote(err)).To(BeTrue())
		})

		It("fails for methods the peer does not have", func() {
			_, err := client.Call("nope").Wait(ctx)
			Expect(rpc.IsRemote(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(rpc.ErrUnknownMethod.Error()))
		})

		It("carries the request id through to the response", func() {
			Expect(client.Call("echo", "a").Wait(ctx)).To(Equal("a"))
			Expect(client.Call("echo", "b").Wait(ctx)).To(Equal("b"))

			requests := toServer.Frames()
			responses := toClient.Frames()
			Expect(responses).To(HaveLen(2))

			for i := range requests {
				Expect(requests[i].Type).To(Equal(protocol.MsgRequest))
				Expect(responses[i].Type).To(Equal(protocol.MsgResponse))
				Expect(responses[i].ID).To(Equal(requests[i].ID))
			}
		})

		It("fails immediately once the connection is closed", func() {
			client.Close()

			_, err := client.Call("echo", 1).Wait(ctx)
			Expect(err).To(MatchError(rpc.ErrConnClosed))
		})
	})

	Describe("asynchronous handlers", func() {
		var (
			mu      sync.Mutex
			waiting map[string]*rpc.Result
		)

		BeforeEach(func() {
			waiting = make(map[string]*rpc.Result)
			services.Handle("later", func(ctx context.Context, args ...interface{}) (interface{}, error) {
				r := rpc.NewResult()

				mu.Lock()
				waiting[args[0].(string)] = r
				mu.Unlock()

				return r, nil
			})
		})

		release := func(key string, value interface{}, err error) {
			Eventually(func() bool {
				mu.Lock()
				defer mu.Unlock()

				_, ok := waiting[key]
				return ok
			}).Should(BeTrue())

			mu.Lock()
			waiting[key].Complete(value, err)
			mu.Unlock()
		}

		It("answers once the handler's result completes, in any order", func() {
			first := client.Call("later", "first")
			second := client.Call("later", "second")

			release("second", "two", nil)
			Expect(second.Wait(ctx)).To(Equal("two"))
			Expect(first.Done()).NotTo(BeClosed())

			release("first", "one", nil)
			Expect(first.Wait(ctx)).To(Equal("one"))
		})

		It("answers with the error of a failed asynchronous result", func() {
			r := client.Call("later", "broken")
			release("broken", nil, errors.New("went wrong"))

			_, err := r.Wait(ctx)
			Expect(err).To(MatchError("went wrong"))
		})
	})

	Describe("timeouts", func() {
		var late *rpc.Result

		BeforeEach(func() {
			late = rpc.NewResult()
			services.Handle("slow", func(ctx context.Context, args ...interface{}) (interface{}, error) {
				return late, nil
			})
		})

		JustBeforeEach(func() {
			client.Close()
			client, server, toServer, toClient = connect(
				rpc.ConnOptions{RequestTimeout: 30 * time.Millisecond},
				rpc.ConnOptions{Service: services},
			)
		})

		It("fails the caller with ErrTimeout and discards the late response", func() {
			r := client.Call("slow")

			_, err := r.Wait(ctx)
			Expect(err).To(MatchError(rpc.ErrTimeout))
			Expect(client.Pending()).To(BeZero())

			late.Complete("too late", nil)
			Eventually(toClient.Frames).Should(HaveLen(1))

			_, err = r.Value()
			Expect(err).To(MatchError(rpc.ErrTimeout))
		})
	})

	Describe("Notice()", func() {
		var heard chan interface{}

		BeforeEach(func() {
			heard = make(chan interface{}, 1)
			services.Handle("log", func(ctx context.Context, args ...interface{}) (interface{}, error) {
				heard <- args[0]
				return "ignored", nil
			})
		})

		It("invokes the handler and never writes a response", func() {
			Expect(client.Notice("log", "hi")).To(Succeed())

			Eventually(heard).Should(Receive(Equal("hi")))
			Consistently(toClient.Frames, 50*time.Millisecond).Should(BeEmpty())
		})

		It("keeps handler errors to the receiving side", func() {
			Expect(client.Notice("fail")).To(Succeed())
			Expect(client.Notice("log", "after")).To(Succeed())

			Eventually(heard).Should(Receive(Equal("after")))
			Expect(toClient.Frames()).To(BeEmpty())
		})

		It("fails once the connection is closed", func() {
			client.Close()
			Expect(client.Notice("log", "hi")).To(MatchError(rpc.ErrConnClosed))
		})
	})

	Describe("Register()", func() {
		BeforeEach(func() {
			services.HandleConn(rpc.RegisterMethod, func(ctx context.Context, conn *rpc.Conn, args ...interface{}) (interface{}, error) {
				name, err := rpc.StringArg(args, 0)
				if err != nil {
					return nil, err
				}

				return conn != nil && name == "nodeA", nil
			})
		})

		It("sends a REGISTER frame and completes with the peer's answer", func() {
			Expect(client.Register("nodeA").Wait(ctx)).To(BeTrue())
			Expect(client.Register("nodeB").Wait(ctx)).To(BeFalse())

			frames := toServer.Frames()
			Expect(frames[0].Type).To(Equal(protocol.MsgRegister))
		})
	})

	Describe("close", func() {
		It("fails every pending call with ErrConnClosed and runs close hooks", func() {
			services.Handle("never", func(ctx context.Context, args ...interface{}) (interface{}, error) {
				return rpc.NewResult(), nil
			})

			closed := make(chan *rpc.Conn, 1)
			client.NotifyClose(func(c *rpc.Conn) { closed <- c })

			r := client.Call("never")
			Eventually(func() int { return client.Pending() }).Should(Equal(1))

			// The peer goes away
			server.Close()

			_, err := r.Wait(ctx)
			Expect(err).To(MatchError(rpc.ErrConnClosed))
			Eventually(closed).Should(Receive(Equal(client)))
			Eventually(client.Done()).Should(BeClosed())
		})

		It("runs hooks registered after the close straight away", func() {
			client.Close()

			ran := false
			client.NotifyClose(func(*rpc.Conn) { ran = true })
			Expect(ran).To(BeTrue())
		})
	})
})

var _ = Describe("Conn dispatch", func() {
	var (
		out  *recorder
		conn *rpc.Conn
	)

	BeforeEach(func() {
		services := rpc.NewServices()
		services.Handle("echo", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return args[0], nil
		})
		services.Handle("channel", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return make(chan int), nil
		})

		out = newRecorder()
		conn = rpc.NewConn(out, rpc.ConnOptions{Service: services})
	})

	It("keeps dispatching the frames behind one that fails to decode", func() {
		stream := protocol.EncodeFrame(protocol.MsgRequest, 1, []byte{0xc1, 0xc1})
		stream = append(stream, encodeCall(protocol.MsgRequest, 2, "echo", "still here")...)

		conn.OnData(stream)

		frames := out.Frames()
		Expect(frames).To(HaveLen(1))
		Expect(frames[0].ID).To(BeEquivalentTo(2))
		Expect(decodeReply(frames[0]).Result).To(Equal("still here"))
	})

	It("skips frames with an unknown type", func() {
		stream := protocol.EncodeFrame(protocol.MsgType(42), 1, nil)
		stream = append(stream, encodeCall(protocol.MsgRequest, 3, "echo", "ok")...)

		conn.OnData(stream)

		frames := out.Frames()
		Expect(frames).To(HaveLen(1))
		Expect(frames[0].ID).To(BeEquivalentTo(3))
	})

	It("keeps dispatching after a response that fails the caller", func() {
		pending := conn.Call("remote")

		reply, err := protocol.MsgpackCodec{}.Encode(&protocol.Reply{Error: "remote failure"})
		Expect(err).To(Succeed())

		stream := protocol.EncodeFrame(protocol.MsgResponse, 0, reply)
		stream = append(stream, encodeCall(protocol.MsgRequest, 4, "echo", "next")...)
		conn.OnData(stream)

		_, err = pending.Value()
		Expect(err).To(MatchError("remote failure"))

		frames := out.Frames()
		Expect(frames[len(frames)-1].ID).To(BeEquivalentTo(4))
	})

	It("accepts frames delivered one byte at a time", func() {
		stream := encodeCall(protocol.MsgRequest, 9, "echo", int64(7))
		for i := range stream {
			conn.OnData(stream[i : i+1])
		}

		frames := out.Frames()
		Expect(frames).To(HaveLen(1))
		Expect(decodeReply(frames[0]).Result).To(BeEquivalentTo(7))
	})

	It("discards responses for unknown ids", func() {
		reply, err := protocol.MsgpackCodec{}.Encode(&protocol.Reply{Result: "stray"})
		Expect(err).To(Succeed())

		Expect(func() { conn.OnData(protocol.EncodeFrame(protocol.MsgResponse, 77, reply)) }).NotTo(Panic())
		Expect(out.Frames()).To(BeEmpty())
	})

	It("closes the connection when a frame exceeds the payload limit", func() {
		limited := rpc.NewConn(newRecorder(), rpc.ConnOptions{MaxPayload: 8})
		limited.OnData(encodeCall(protocol.MsgRequest, 1, "echo", "a long argument"))

		Expect(limited.Done()).To(BeClosed())
	})

	It("answers with an error when the result cannot be encoded", func() {
		conn.OnData(encodeCall(protocol.MsgRequest, 5, "channel"))

		frames := out.Frames()
		Expect(frames).To(HaveLen(1))
		Expect(frames[0].ID).To(BeEquivalentTo(5))

		reply := decodeReply(frames[0])
		Expect(reply.Result).To(BeNil())
		Expect(reply.Error).To(HavePrefix("channel: "))
	})

	It("writes a response once even when the write fails", func() {
		services := rpc.NewServices()
		services.Handle("echo", func(ctx context.Context, args ...interface{}) (interface{}, error) {
			return args[0], nil
		})

		stream := &brokenStream{}
		broken := rpc.NewConn(stream, rpc.ConnOptions{Service: services})
		broken.OnData(encodeCall(protocol.MsgRequest, 1, "echo", "lost"))

		Expect(stream.Writes()).To(Equal(1))
	})
})
