package meta_test

import (
	"runtime"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/tether/internal/meta"
)

var _ = Describe("meta", func() {
	AfterEach(func() {
		meta.Version = ""
		meta.Build = ""
		meta.Branch = ""
	})

	It("reports a dev version when none was linked in", func() {
		info := meta.GetInfo()

		Expect(info.Version).To(Equal("dev"))
		Expect(info.GoVersion).To(Equal(runtime.Version()))
		Expect(info.String()).To(HavePrefix("tether dev\n"))
	})

	It("includes the build and branch", func() {
		meta.Version = "1.2.0"
		meta.Build = "abc123"
		meta.Branch = "main"

		Expect(meta.GetInfo().String()).To(HavePrefix("tether 1.2.0 (abc123 on main)\n"))
	})
})
