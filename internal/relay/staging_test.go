package relay

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		staging Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		staging, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Stage", func() {
		var (
			stagedPath string
			err        error
		)

		JustBeforeEach(func() {
			stagedPath, err = staging.Stage("receipt.png", []byte("fake image data"))
		})

		When("staging succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the absolute staged path", func() {
				Expect(stagedPath).To(Equal(filepath.Join(tmpDir, "receipt.png")))
				Expect(filepath.IsAbs(stagedPath)).To(BeTrue())
			})

			It("should stage the file on disk", func() {
				Expect(stagedPath).To(BeAnExistingFile())
			})
		})
	})

	Describe("Read", func() {
		When("the file is staged", func() {
			var stagedPath string

			BeforeEach(func() {
				var err error
				stagedPath, err = staging.Stage("receipt.png", []byte("fake image data"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns its bytes", func() {
				data, err := staging.Read(stagedPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("fake image data")))
			})
		})

		When("the path was never staged", func() {
			It("returns an error", func() {
				_, err := staging.Read(filepath.Join(tmpDir, "missing.png"))
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Discard", func() {
		When("the file is staged", func() {
			var stagedPath string

			BeforeEach(func() {
				var err error
				stagedPath, err = staging.Stage("receipt.png", []byte("fake image data"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes it", func() {
				Expect(staging.Discard(stagedPath)).To(Succeed())
				Expect(stagedPath).NotTo(BeAnExistingFile())
			})
		})

		When("the path was never staged", func() {
			It("returns an error", func() {
				Expect(staging.Discard(filepath.Join(tmpDir, "missing.png"))).To(HaveOccurred())
			})
		})
	})
})
