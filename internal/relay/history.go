package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/expense-relay/internal/tracker"
)

const submissionBucketName = "submissions"

// Submission is one receipt's audit row: written when the expense is
// created and updated once with the terminal outcome. Never used to resume
// polling after a restart.
type Submission struct {
	ExternalID  string          `json:"external_id"`
	Filename    string          `json:"filename"`
	Channel     string          `json:"channel"`
	ThreadTS    string          `json:"thread_ts"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Outcome     tracker.Outcome `json:"outcome,omitempty"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

// History persists submission records in BoltDB.
type History struct {
	db *bbolt.DB
}

// NewHistory opens (or creates) the history database at path.
func NewHistory(path string) (*History, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(submissionBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &History{db: db}, nil
}

// SaveSubmission writes a submission record keyed by external ID.
func (h *History) SaveSubmission(sub *Submission) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName))
		data, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("marshaling submission: %w", err)
		}
		return bucket.Put([]byte(sub.ExternalID), data)
	})
}

// GetSubmission retrieves a submission by external ID.
func (h *History) GetSubmission(externalID string) (*Submission, error) {
	var sub *Submission
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName))
		data := bucket.Get([]byte(externalID))
		if data == nil {
			return fmt.Errorf("submission not found: %s", externalID)
		}
		return json.Unmarshal(data, &sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubmissions returns all submission records.
func (h *History) ListSubmissions() ([]*Submission, error) {
	submissions := make([]*Submission, 0)
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var sub Submission
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("unmarshaling submission: %w", err)
			}
			submissions = append(submissions, &sub)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

// RecordOutcome marks a submission with its terminal outcome. Implements
// the tracker's outcome recorder.
func (h *History) RecordOutcome(externalID string, outcome tracker.Outcome) error {
	sub, err := h.GetSubmission(externalID)
	if err != nil {
		return fmt.Errorf("getting submission for outcome: %w", err)
	}
	sub.Outcome = outcome
	sub.ResolvedAt = time.Now()
	return h.SaveSubmission(sub)
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
