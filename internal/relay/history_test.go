package relay

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-relay/internal/tracker"
)

var _ = Describe("History", func() {
	var (
		tmpDir  string
		dbPath  string
		history *History
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		history, err = NewHistory(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if history != nil {
			history.Close()
		}
	})

	Describe("SaveSubmission", func() {
		var (
			sub *Submission
			err error
		)

		BeforeEach(func() {
			sub = &Submission{
				ExternalID:  "receipt.png",
				Filename:    "receipt.png",
				Channel:     "C123",
				ThreadTS:    "1700000000.000100",
				SubmittedAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = history.SaveSubmission(sub)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should persist the submission", func() {
				saved, getErr := history.GetSubmission("receipt.png")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Channel).To(Equal("C123"))
				Expect(saved.SubmittedAt.Equal(sub.SubmittedAt)).To(BeTrue())
			})
		})
	})

	Describe("GetSubmission", func() {
		When("the submission does not exist", func() {
			It("returns an error", func() {
				_, err := history.GetSubmission("nonexistent")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("ListSubmissions", func() {
		When("submissions exist", func() {
			BeforeEach(func() {
				Expect(history.SaveSubmission(&Submission{ExternalID: "a.png"})).To(Succeed())
				Expect(history.SaveSubmission(&Submission{ExternalID: "b.pdf"})).To(Succeed())
			})

			It("returns all of them", func() {
				subs, err := history.ListSubmissions()
				Expect(err).NotTo(HaveOccurred())
				Expect(subs).To(HaveLen(2))
			})
		})

		When("the database is empty", func() {
			It("returns an empty list", func() {
				subs, err := history.ListSubmissions()
				Expect(err).NotTo(HaveOccurred())
				Expect(subs).To(BeEmpty())
			})
		})
	})

	Describe("RecordOutcome", func() {
		When("the submission exists", func() {
			BeforeEach(func() {
				Expect(history.SaveSubmission(&Submission{
					ExternalID: "receipt.png",
					Filename:   "receipt.png",
				})).To(Succeed())
			})

			It("marks it with the terminal outcome", func() {
				Expect(history.RecordOutcome("receipt.png", tracker.OutcomeCompleted)).To(Succeed())

				saved, err := history.GetSubmission("receipt.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Outcome).To(Equal(tracker.OutcomeCompleted))
				Expect(saved.ResolvedAt).NotTo(BeZero())
			})
		})

		When("the submission is missing", func() {
			It("returns an error", func() {
				err := history.RecordOutcome("nonexistent", tracker.OutcomeTimedOut)
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
