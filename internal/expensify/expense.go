package expensify

// Status classifies a ledger-side expense record.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// Expense is an expense record as observed through a download job.
// Filename is only sent on create, to name the attached receipt; download
// jobs do not return it.
type Expense struct {
	ExternalID  string `json:"externalID"`
	Merchant    string `json:"merchant"`
	Amount      int64  `json:"amount"` // Amount in minor units (cents)
	Created     int64  `json:"created"`
	Currency    string `json:"currency"`
	Category    string `json:"category"`
	Filename    string `json:"filename,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// Status derives the record status. The Integration Server exposes no
// explicit status field for SmartScan, so amount == 0 means the scan has
// not filled the record in yet. This is backend-compatibility behavior,
// not a formatting concern.
func (e *Expense) Status() Status {
	if e.ErrorDetail != "" {
		return StatusError
	}
	if e.Amount == 0 {
		return StatusProcessing
	}
	return StatusCompleted
}
