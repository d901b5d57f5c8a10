// Package printer contains shared types to avoid import cycles.
package printer

// Summary statuses.
const (
	StatusOK      = "ok"
	StatusWarning = "warning" // printers found but none selected or flagged default
	StatusError   = "error"   // enumeration failed or no printers installed
)

// Summary provides a lightweight printer overview for health checks
type Summary struct {
	Status        string `json:"status"`
	DetectedCount int    `json:"detected_count"`
	DefaultName   string `json:"default_name,omitempty"`
	SelectedName  string `json:"selected_name,omitempty"`
}
