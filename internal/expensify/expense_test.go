package expensify

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Expense", func() {
	Describe("Status", func() {
		var exp *Expense

		BeforeEach(func() {
			exp = &Expense{ExternalID: "receipt.png"}
		})

		When("the amount is still zero", func() {
			It("classifies the record as processing", func() {
				Expect(exp.Status()).To(Equal(StatusProcessing))
			})
		})

		When("the scan has filled the amount in", func() {
			BeforeEach(func() {
				exp.Amount = 4200
			})

			It("classifies the record as completed", func() {
				Expect(exp.Status()).To(Equal(StatusCompleted))
			})
		})

		When("the backend reports a scan failure", func() {
			BeforeEach(func() {
				exp.ErrorDetail = "receipt is unreadable"
			})

			It("classifies the record as errored", func() {
				Expect(exp.Status()).To(Equal(StatusError))
			})

			It("takes precedence over a filled amount", func() {
				exp.Amount = 4200
				Expect(exp.Status()).To(Equal(StatusError))
			})
		})
	})
})

var _ = Describe("parseDownloadResponse", func() {
	var (
		body    []byte
		expense *Expense
		err     error
	)

	JustBeforeEach(func() {
		expense, err = parseDownloadResponse(body)
	})

	When("the body holds one expense", func() {
		BeforeEach(func() {
			body = []byte(`{"expenses":[{"externalID":"receipt.png","merchant":"Cafe X","amount":4200}]}`)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns that expense", func() {
			Expect(expense.Merchant).To(Equal("Cafe X"))
		})
	})

	When("the expenses list is absent", func() {
		BeforeEach(func() {
			body = []byte(`{}`)
		})

		It("returns no record and no error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(expense).To(BeNil())
		})
	})

	When("the body is not valid JSON", func() {
		BeforeEach(func() {
			body = []byte("not json")
		})

		It("returns a parse error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})
