package expensify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultURL is the fixed Integration Server endpoint.
const DefaultURL = "https://integrations.expensify.com/Integration-Server/ExpensifyIntegrations"

// The placeholder merchant on freshly created expenses; SmartScan
// overwrites it once OCR resolves.
const merchantPlaceholder = "Slack Receipt"

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Credentials are Integration Server partner credentials.
type Credentials struct {
	PartnerUserID     string
	PartnerUserSecret string
}

// Config carries everything needed to talk to the Integration Server.
// Loaded once at startup and immutable afterwards.
type Config struct {
	URL           string
	Credentials   Credentials
	PolicyID      string
	EmployeeEmail string
	Category      string
	Currency      string
}

// Client talks to the Expensify Integration Server. It covers the two job
// shapes the relay needs: "create" (submit a zero-amount expense with the
// receipt attached, which triggers SmartScan) and "download" (look an
// expense up by externalID).
type Client struct {
	cfg        Config
	client     *http.Client
	timeSource TimeSource
}

// NewClient creates a new Client with the default HTTP client and time source.
func NewClient(cfg Config) *Client {
	return NewClientWithDeps(cfg, &http.Client{Timeout: 60 * time.Second}, &defaultTimeSource{})
}

// NewClientWithDeps creates a new Client with custom dependencies for testing.
func NewClientWithDeps(cfg Config, client *http.Client, timeSource TimeSource) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Client{
		cfg:        cfg,
		client:     client,
		timeSource: timeSource,
	}
}

type credentialsPayload struct {
	PartnerUserID     string `json:"partnerUserID"`
	PartnerUserSecret string `json:"partnerUserSecret"`
}

type createJob struct {
	Type        string             `json:"type"`
	Credentials credentialsPayload `json:"credentials"`
	OnFinish    map[string]string  `json:"onFinish"`
}

type createData struct {
	PolicyID      string    `json:"policyID"`
	EmployeeEmail string    `json:"employeeEmail"`
	Expenses      []Expense `json:"expenses"`
}

// CreateExpense submits receipt bytes as a zero-amount expense keyed by
// externalID. The zero amount is what makes the backend run SmartScan over
// the attached receipt. No merchant or amount data is available on success.
func (c *Client) CreateExpense(ctx context.Context, receipt []byte, filename, externalID string) error {
	if filename == "" {
		return fmt.Errorf("filename is required")
	}
	if len(receipt) == 0 {
		return fmt.Errorf("receipt data is empty")
	}

	job := createJob{
		Type: "create",
		Credentials: credentialsPayload{
			PartnerUserID:     c.cfg.Credentials.PartnerUserID,
			PartnerUserSecret: c.cfg.Credentials.PartnerUserSecret,
		},
		// Mark the report as submitted once created so reimbursement can flow.
		OnFinish: map[string]string{"action": "markSubmitted"},
	}

	data := createData{
		PolicyID:      c.cfg.PolicyID,
		EmployeeEmail: c.cfg.EmployeeEmail,
		Expenses: []Expense{
			{
				Created:    c.timeSource.Now().Unix(),
				Merchant:   merchantPlaceholder,
				Amount:     0,
				Currency:   c.cfg.Currency,
				Category:   c.cfg.Category,
				ExternalID: externalID,
				Filename:   filename,
			},
		},
	}

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job description: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling expense data: %w", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("requestJobDescription", string(jobJSON)); err != nil {
		return fmt.Errorf("writing job field: %w", err)
	}
	if err := form.WriteField("data", string(dataJSON)); err != nil {
		return fmt.Errorf("writing data field: %w", err)
	}
	part, err := form.CreateFormFile("receipt", filename)
	if err != nil {
		return fmt.Errorf("creating receipt part: %w", err)
	}
	if _, err := part.Write(receipt); err != nil {
		return fmt.Errorf("writing receipt part: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("closing multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling expensify API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("expensify API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	slog.Info("Expensify accepted receipt", "filename", filename, "external_id", externalID)
	return nil
}

type downloadJob struct {
	Type           string             `json:"type"`
	Credentials    credentialsPayload `json:"credentials"`
	InputSettings  inputSettings      `json:"inputSettings"`
	OutputSettings outputSettings     `json:"outputSettings"`
}

type inputSettings struct {
	Type      string            `json:"type"`
	Filters   map[string]string `json:"filters"`
	DateRange string            `json:"dateRange"`
}

type outputSettings struct {
	FileExtension string `json:"fileExtension"`
}

// FetchExpense looks an expense up by externalID across the full ledger
// history window. A nil result means the backend has not indexed the record
// yet, which is expected right after submission. Parse and transport
// failures are returned, never swallowed.
func (c *Client) FetchExpense(ctx context.Context, externalID string) (*Expense, error) {
	job := downloadJob{
		Type: "download",
		Credentials: credentialsPayload{
			PartnerUserID:     c.cfg.Credentials.PartnerUserID,
			PartnerUserSecret: c.cfg.Credentials.PartnerUserSecret,
		},
		InputSettings: inputSettings{
			Type:      "expenses",
			Filters:   map[string]string{"externalID": externalID},
			DateRange: "all",
		},
		OutputSettings: outputSettings{FileExtension: "json"},
	}

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshaling job description: %w", err)
	}

	form := url.Values{}
	form.Set("requestJobDescription", string(jobJSON))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling expensify API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("expensify API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return parseDownloadResponse(respBody)
}
