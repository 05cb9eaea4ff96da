package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arenvik/deadbolt/internal/audit"
	"github.com/arenvik/deadbolt/internal/escalate"
)

// Audit prints the audit entries readable under the authenticated
// persona's key, optionally filtered by category and minimum severity.
func Audit(ctx context.Context, category, severity string) {
	if err := ctx.Err(); err != nil {
		HandleError(err)
	}

	filter := audit.Filter{}
	if category != "" {
		filter.Category = escalate.Category(category)
	}
	if severity != "" {
		s, ok := parseSeverity(severity)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unknown severity %q (low, medium, high, critical)\n", severity)
			os.Exit(1)
		}
		filter.MinSeverity = s
	}

	v := OpenVault()
	defer v.Close()

	session := OpenSession(v)
	defer session.Close()

	entries, err := session.Audit(filter)
	if err != nil {
		HandleError(err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries")
		return
	}

	for _, e := range entries {
		fmt.Printf("%s  %-8s %-8s %-20s %s\n",
			e.Timestamp.Format(time.RFC3339),
			e.Category, e.Severity, e.EventType, e.Description)
	}
}

func parseSeverity(name string) (escalate.Severity, bool) {
	switch name {
	case "low":
		return escalate.SeverityLow, true
	case "medium":
		return escalate.SeverityMedium, true
	case "high":
		return escalate.SeverityHigh, true
	case "critical":
		return escalate.SeverityCritical, true
	}
	return escalate.SeverityLow, false
}
