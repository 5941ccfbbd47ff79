package tracker

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zombor/expense-relay/internal/expensify"
)

var amountPrinter = message.NewPrinter(language.English)

// formatAmount converts minor units to a two-decimal, thousands-separated
// major-unit string: 12345 -> "123.45", 123456789 -> "1,234,567.89".
func formatAmount(minorUnits int64) string {
	return amountPrinter.Sprintf("%.2f", float64(minorUnits)/100)
}

func pendingMessage(attempt, max int) string {
	return fmt.Sprintf("⌛ SmartScan pending… (attempt %d/%d)", attempt, max)
}

func processingMessage(attempt, max int) string {
	return fmt.Sprintf("⌛ SmartScan still processing… (attempt %d/%d)", attempt, max)
}

func lookupErrorMessage(err error) string {
	return fmt.Sprintf("⚠️ Expensify lookup error: %v", err)
}

func scanErrorMessage(detail string) string {
	return fmt.Sprintf("⚠️ SmartScan failed: %s", detail)
}

func completedMessage(exp *expensify.Expense, loc *time.Location) string {
	merchant := exp.Merchant
	if merchant == "" {
		merchant = "[merchant unknown]"
	}
	date := time.Unix(exp.Created, 0).In(loc).Format("2006-01-02")
	return fmt.Sprintf(
		"✅ SmartScan complete → *%s* “$%s” on %s. Expense is now in Expensify.",
		merchant, formatAmount(exp.Amount), date,
	)
}

func timedOutMessage() string {
	return "⚠️ SmartScan hasn’t finished after several minutes. It will still complete in Expensify eventually, but I’ve stopped polling."
}
