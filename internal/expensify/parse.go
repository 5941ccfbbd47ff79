package expensify

import (
	"encoding/json"
	"fmt"
)

type downloadResponse struct {
	Expenses []Expense `json:"expenses"`
}

// parseDownloadResponse parses the JSON body of a download job. A missing
// or empty expenses list means the record is not indexed yet, not an error.
// If the uniqueness invariant on externalID is ever violated and multiple
// records come back, the first one wins; this tie-break is deliberate and
// not validated further.
func parseDownloadResponse(body []byte) (*Expense, error) {
	var resp downloadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling download response: %w", err)
	}

	if len(resp.Expenses) == 0 {
		return nil, nil
	}
	return &resp.Expenses[0], nil
}
