package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/expense-relay/internal/expensify"
	"github.com/zombor/expense-relay/internal/relay"
	"github.com/zombor/expense-relay/internal/slack"
	"github.com/zombor/expense-relay/internal/tracker"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const defaultCategory = "Travel (Candidates, Advisors, Sales, HQ, etc)"

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("expense-relay")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "expense-relay.db", "Submission history database file path")
		stagingPath   = fs.StringLong("staging", "/tmp/expense-relay", "Staging directory for downloaded receipts")
		pollInterval  = fs.DurationLong("poll-interval", 15*time.Second, "Delay between SmartScan polls")
		maxAttempts   = fs.IntLong("max-attempts", 10, "SmartScan polls before giving up")
		category      = fs.StringLong("category", defaultCategory, "Expense category label")
		userID        = fs.StringLong("expensify-user-id", "", "Expensify partner user ID")
		userSecret    = fs.StringLong("expensify-user-secret", "", "Expensify partner user secret")
		policyID      = fs.StringLong("expensify-policy-id", "", "Expensify policy ID")
		employeeEmail = fs.StringLong("expensify-email", "", "Employee email that owns the expenses")
		expensifyURL  = fs.StringLong("expensify-url", expensify.DefaultURL, "Expensify Integration Server endpoint")
		botToken      = fs.StringLong("slack-bot-token", "", "Slack bot token")
		signingSecret = fs.StringLong("slack-signing-secret", "", "Slack signing secret for event verification")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_RELAY"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *userID == "" || *userSecret == "" || *policyID == "" || *employeeEmail == "" {
		slog.Error("Expensify credentials are required. Set --expensify-user-id, --expensify-user-secret, --expensify-policy-id and --expensify-email")
		os.Exit(1)
	}
	if *botToken == "" {
		slog.Error("Slack bot token is required. Set --slack-bot-token or EXPENSE_RELAY_SLACK_BOT_TOKEN")
		os.Exit(1)
	}
	if *signingSecret == "" {
		slog.Error("Slack signing secret is required. Set --slack-signing-secret or EXPENSE_RELAY_SLACK_SIGNING_SECRET")
		os.Exit(1)
	}

	// Initialize submission history
	slog.Info("Initializing submission history...")
	history, err := relay.NewHistory(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize history database", "error", err)
		os.Exit(1)
	}
	defer history.Close()

	// Initialize staging storage
	slog.Info("Initializing staging storage...")
	staging, err := relay.NewLocalStorage(*stagingPath)
	if err != nil {
		slog.Error("Failed to initialize staging storage", "error", err)
		os.Exit(1)
	}

	// Initialize API clients
	expensifyClient := expensify.NewClient(expensify.Config{
		URL: *expensifyURL,
		Credentials: expensify.Credentials{
			PartnerUserID:     *userID,
			PartnerUserSecret: *userSecret,
		},
		PolicyID:      *policyID,
		EmployeeEmail: *employeeEmail,
		Category:      *category,
	})
	slackClient := slack.NewClient("", *botToken)

	// Initialize the lifecycle tracker
	trackers := tracker.New(tracker.Config{
		PollInterval: *pollInterval,
		MaxAttempts:  *maxAttempts,
	}, expensifyClient, slackClient, history)

	// Initialize service and server
	service := relay.NewService(slackClient, expensifyClient, trackers, history, staging)
	server := relay.NewServer(service, history, *signingSecret)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Expense relay started", "address", fmt.Sprintf("http://localhost%s", addr), "poll_interval", *pollInterval, "max_attempts", *maxAttempts)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// In-flight tracking tasks are dropped on exit; the backend still
	// finishes its scans, but nobody reports them to Slack.
	if n := trackers.InFlight(); n > 0 {
		slog.Warn("Shutting down with tracking tasks in flight", "count", n)
	}
	slog.Info("Shutting down...")
}
