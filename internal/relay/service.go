package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/expense-relay/internal/slack"
	"github.com/zombor/expense-relay/internal/tracker"
)

// allowedFiletypes is the receipt allow-list; anything else posted to the
// channel is ignored before it reaches the core.
var allowedFiletypes = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"pdf":  {},
}

// SlackGateway is the slice of the Slack client the service needs.
type SlackGateway interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) error
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Submitter creates a zero-amount expense with the receipt attached.
type Submitter interface {
	CreateExpense(ctx context.Context, receipt []byte, filename, externalID string) error
}

// Trackers is the registry of in-flight tracking tasks.
type Trackers interface {
	Claim(externalID string) error
	Release(externalID string)
	Track(externalID string, dest tracker.Destination)
}

// Journal records submissions for the history endpoint.
type Journal interface {
	SaveSubmission(sub *Submission) error
	ListSubmissions() ([]*Submission, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Service handles inbound file-share events: it filters, downloads,
// stages, submits each receipt and spawns one tracking task per accepted
// file. Files in the same event are independent; one file failing does not
// stop its siblings.
type Service struct {
	slack      SlackGateway
	submitter  Submitter
	trackers   Trackers
	journal    Journal
	staging    Storage
	timeSource TimeSource
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// NewService creates a Service with the default time source.
func NewService(gateway SlackGateway, submitter Submitter, trackers Trackers, journal Journal, staging Storage) *Service {
	return NewServiceWithDeps(gateway, submitter, trackers, journal, staging, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(gateway SlackGateway, submitter Submitter, trackers Trackers, journal Journal, staging Storage, timeSource TimeSource) *Service {
	return &Service{
		slack:      gateway,
		submitter:  submitter,
		trackers:   trackers,
		journal:    journal,
		staging:    staging,
		timeSource: timeSource,
	}
}

// sanitizeFilename cleans a filename up so it can serve as the externalID
// correlation key and a staging path: special characters stripped, runs of
// whitespace collapsed, length capped.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// filetypeAllowed reports whether a Slack filetype is on the receipt
// allow-list.
func filetypeAllowed(filetype string) bool {
	_, ok := allowedFiletypes[strings.ToLower(filetype)]
	return ok
}

// HandleFileShare processes every receipt attached to one message event.
func (s *Service) HandleFileShare(ctx context.Context, ev slack.MessageEvent) {
	threadTS := ev.ThreadDestination()

	for _, file := range ev.Files {
		if !filetypeAllowed(file.Filetype) {
			slog.Info("Skipping non-receipt file", "filename", file.Name, "filetype", file.Filetype)
			continue
		}
		s.handleFile(ctx, file, ev.Channel, threadTS)
	}
}

// handleFile runs one receipt through download, staging, submission and
// tracker spawn. Every failure path posts exactly one message to the
// thread and leaves sibling files untouched.
func (s *Service) handleFile(ctx context.Context, file slack.File, channel, threadTS string) {
	slog.Info("Downloading receipt from Slack", "filename", file.Name, "file_id", file.ID)

	data, err := s.slack.FetchFile(ctx, file.ID)
	if err != nil {
		slog.Error("Failed to download file", "filename", file.Name, "error", err)
		s.post(ctx, channel, threadTS, downloadFailedMessage(file.Name, err))
		return
	}

	externalID := sanitizeFilename(file.Name)

	// Claim before submitting so a concurrent duplicate of the same
	// receipt cannot slip between the check and the spawn.
	if err := s.trackers.Claim(externalID); err != nil {
		if errors.Is(err, tracker.ErrAlreadyTracking) {
			slog.Info("Receipt already being tracked", "external_id", externalID)
			s.post(ctx, channel, threadTS, alreadyTrackingMessage(file.Name))
			return
		}
		slog.Error("Failed to claim external ID", "external_id", externalID, "error", err)
		s.post(ctx, channel, threadTS, submitFailedMessage(file.Name, err))
		return
	}

	stagedPath, err := s.staging.Stage(externalID, data)
	if err != nil {
		s.trackers.Release(externalID)
		slog.Error("Failed to stage file", "filename", file.Name, "error", err)
		s.post(ctx, channel, threadTS, submitFailedMessage(file.Name, err))
		return
	}
	defer func() {
		if err := s.staging.Discard(stagedPath); err != nil {
			slog.Warn("Failed to discard staged file", "path", stagedPath, "error", err)
		}
	}()

	staged, err := s.staging.Read(stagedPath)
	if err != nil {
		s.trackers.Release(externalID)
		slog.Error("Failed to read staged file", "path", stagedPath, "error", err)
		s.post(ctx, channel, threadTS, submitFailedMessage(file.Name, err))
		return
	}

	if err := s.submitter.CreateExpense(ctx, staged, file.Name, externalID); err != nil {
		s.trackers.Release(externalID)
		slog.Error("Submission failed", "filename", file.Name, "error", err)
		s.post(ctx, channel, threadTS, submitFailedMessage(file.Name, err))
		return
	}

	s.post(ctx, channel, threadTS, uploadAckMessage())

	if s.journal != nil {
		sub := &Submission{
			ExternalID:  externalID,
			Filename:    file.Name,
			Channel:     channel,
			ThreadTS:    threadTS,
			SubmittedAt: s.timeSource.Now(),
		}
		if err := s.journal.SaveSubmission(sub); err != nil {
			slog.Warn("Failed to record submission", "external_id", externalID, "error", err)
		}
	}

	s.trackers.Track(externalID, tracker.Destination{Channel: channel, ThreadTS: threadTS})
}

// post delivers a status message fire-and-forget.
func (s *Service) post(ctx context.Context, channel, threadTS, text string) {
	if err := s.slack.PostMessage(ctx, channel, threadTS, text); err != nil {
		slog.Warn("Failed to post message", "channel", channel, "error", err)
	}
}

func uploadAckMessage() string {
	return "📤 Uploaded receipt to Expensify. Waiting for SmartScan…"
}

func downloadFailedMessage(filename string, err error) string {
	return fmt.Sprintf("⚠️ Could not download *%s*: %v", filename, err)
}

func submitFailedMessage(filename string, err error) string {
	return fmt.Sprintf("⚠️ Failed to submit *%s*: %v", filename, err)
}

func alreadyTrackingMessage(filename string) string {
	return fmt.Sprintf("⚠️ *%s* is already being tracked; ignoring the duplicate.", filename)
}
