package env_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/luma/tether/internal/env"
)

var _ = Describe("env", func() {
	ctx := context.Background()

	Describe("LoadConfigFrom()", func() {
		It("falls back to defaults", func() {
			config, err := env.LoadConfigFrom(ctx, envconfig.MapLookuper(map[string]string{}))
			Expect(err).To(Succeed())

			Expect(config.RequestTimeout).To(Equal(30 * time.Second))
			Expect(config.MaxFrameSize).To(BeEquivalentTo(16 * 1024 * 1024))
			Expect(config.ReadBufferSize).To(Equal(16384))
			Expect(config.LogLevel).To(Equal("info"))
			Expect(config.RateLimit).To(BeZero())
			Expect(config.DebugHTTP).To(BeFalse())
		})

		It("reads TETHER_ variables", func() {
			config, err := env.LoadConfigFrom(ctx, envconfig.MapLookuper(map[string]string{
				"TETHER_REQUEST_TIMEOUT": "250ms",
				"TETHER_MAX_FRAME_SIZE":  "1024",
				"TETHER_DEBUG_HTTP":      "true",
				"TETHER_RATE_LIMIT":      "50",
				"TETHER_RATE_BURST":      "5",
			}))
			Expect(err).To(Succeed())

			Expect(config.RequestTimeout).To(Equal(250 * time.Millisecond))
			Expect(config.MaxFrameSize).To(BeEquivalentTo(1024))
			Expect(config.DebugHTTP).To(BeTrue())
			Expect(config.RateLimit).To(Equal(50.0))
			Expect(config.RateBurst).To(Equal(5))
		})

		table.DescribeTable("rejects invalid values",
			func(vars map[string]string) {
				_, err := env.LoadConfigFrom(ctx, envconfig.MapLookuper(vars))
				Expect(err).To(HaveOccurred())
			},
			table.Entry("unparseable timeout", map[string]string{"TETHER_REQUEST_TIMEOUT": "soon"}),
			table.Entry("negative timeout", map[string]string{"TETHER_REQUEST_TIMEOUT": "-1s"}),
			table.Entry("empty read buffer", map[string]string{"TETHER_READ_BUFFER_SIZE": "0"}),
			table.Entry("negative rate", map[string]string{"TETHER_RATE_LIMIT": "-3"}),
			table.Entry("rate without burst", map[string]string{"TETHER_RATE_LIMIT": "3", "TETHER_RATE_BURST": "0"}),
		)
	})

	Describe("MakeLogger()", func() {
		It("builds a logger at the requested level", func() {
			log, err := env.MakeLogger("warn")
			Expect(err).To(Succeed())

			Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeFalse())
			Expect(log.Core().Enabled(zapcore.WarnLevel)).To(BeTrue())
		})

		It("rejects unknown levels", func() {
			_, err := env.MakeLogger("chatty")
			Expect(err).To(MatchError(env.ErrInvalidConfig))
		})
	})
})
