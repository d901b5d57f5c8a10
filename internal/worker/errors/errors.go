// Package workererrors turns print failures into short messages for the POS front-end.
package workererrors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adcondev/ticket-bridge/internal/executor"
)

// ExtractUserFriendlyError creates a clean error message for the UI
func ExtractUserFriendlyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT: Printer did not respond in time"
	case errors.Is(err, executor.ErrPrinterNotFound):
		return "PRINTER: Printer not found - check that it is installed"
	case errors.Is(err, executor.ErrListFailed):
		return "PRINTER: Cannot list printers - check the print spooler"
	case errors.Is(err, executor.ErrPrintFailed):
		return "PRINTER: Print command failed"
	}

	errStr := err.Error()

	// Host results arrive as plain text
	errorMappings := []struct {
		pattern string
		message string
	}{
		{"did not finish", "TIMEOUT: Printer did not respond in time"},
		{"printer not found", "PRINTER: Printer not found - check that it is installed"},
		{"failed to list printers", "PRINTER: Cannot list printers - check the print spooler"},
		{"print command failed", "PRINTER: Print command failed"},
		{"printing disabled", "PERMISSION: Printing is disabled on this host"},
		{"invalid paper width", "VALIDATION: Invalid paper width"},
		{"no lines", "VALIDATION: Ticket must contain at least one line"},
		{"printer preference", "SETTINGS: Cannot read the saved printer"},
		{"panic recovered", "INTERNAL: Unexpected error while printing"},
	}

	// Check for matching patterns
	for _, mapping := range errorMappings {
		if strings.Contains(strings.ToLower(errStr), mapping.pattern) {
			return mapping.message
		}
	}

	// Fallback:  return cleaned error
	return fmt.Sprintf("ERROR: %s", cleanErrorMessage(errStr))
}

// cleanErrorMessage removes verbose prefixes
func cleanErrorMessage(errStr string) string {
	prefixes := []string{
		"error printing ticket: ",
		"error printing test ticket: ",
		"error resolving printer: ",
	}
	result := errStr
	for _, prefix := range prefixes {
		result = strings.TrimPrefix(result, prefix)
	}
	return result
}
