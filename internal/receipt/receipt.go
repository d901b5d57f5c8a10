// Package receipt renders school payments into fixed-width thermal receipt lines.
package receipt

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/adcondev/ticket-bridge/internal/bridge"
)

// Placeholder replaces every blank optional field.
const Placeholder = "-"

// TimeZone is the civil zone receipts are stamped in.
const TimeZone = "America/Mexico_City"

// TimestampLayout is the receipt timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// widthByPaper maps rounded paper widths (mm) to printable columns.
var widthByPaper = map[int]int{
	58:  32,
	57:  32,
	76:  40,
	80:  40,
	112: 48,
}

var receiptZone = loadZone()

func loadZone() *time.Location {
	loc, err := time.LoadLocation(TimeZone)
	if err != nil {
		log.Printf("[RECEIPT] ⚠️ Cannot load %s, using fixed UTC-6: %v", TimeZone, err)
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}

// School identifies the issuer printed in the receipt header.
type School struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Payment is the transaction printed on the receipt.
type Payment struct {
	Folio       string  `json:"folio,omitempty"`
	StudentName string  `json:"studentName,omitempty"`
	Level       string  `json:"level,omitempty"`
	GradeGroup  string  `json:"gradeGroup,omitempty"`
	Method      string  `json:"method,omitempty"`
	Reference   string  `json:"reference,omitempty"`
	Month       string  `json:"month,omitempty"`
	Cycle       string  `json:"cycle,omitempty"`
	Comments    string  `json:"comments,omitempty"`
	Amount      float64 `json:"amount"`
}

// LineWidth returns the printable columns for a paper width in millimeters.
func LineWidth(paperWidthMm float64) int {
	rounded := int(math.Round(paperWidthMm))
	if w, ok := widthByPaper[rounded]; ok {
		return w
	}
	switch {
	case rounded >= 110:
		return 48
	case rounded >= 76:
		return 40
	default:
		return 32
	}
}

// CenterText pads s to width, giving the left side the smaller half. Strings at or over
// width are returned unchanged. An empty s yields width/2 spaces.
func CenterText(s string, width int) string {
	if width <= 0 {
		return s
	}
	if s == "" {
		return strings.Repeat(" ", width/2)
	}
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	total := width - n
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

// FormatAmount renders a currency amount with thousands separators and two decimals.
func FormatAmount(amount float64) string {
	return "$" + humanize.FormatFloat("#,###.##", amount)
}

// FormatTimestamp renders t in the receipt time zone.
func FormatTimestamp(t time.Time) string {
	return t.In(receiptZone).Format(TimestampLayout)
}

// BuildLines renders the receipt. The output depends only on its arguments; a zero now
// means the current time.
func BuildLines(school School, payment Payment, labels Labels, paperWidthMm float64, now time.Time) []string {
	if labels == nil {
		labels = LabelMap(nil)
	}
	if now.IsZero() {
		now = time.Now()
	}
	width := LineWidth(paperWidthMm)
	heavy := strings.Repeat("=", width)
	light := strings.Repeat("-", width)

	field := func(key, value string) string {
		return fmt.Sprintf("%s: %s", labels.Label(key), orPlaceholder(value))
	}

	return []string{
		CenterText(orPlaceholder(school.Name), width),
		CenterText(orPlaceholder(school.Address), width),
		CenterText(field(KeyPhone, school.Phone), width),
		heavy,
		CenterText(labels.Label(KeyTitle), width),
		field(KeyFolio, payment.Folio),
		field(KeyDate, FormatTimestamp(now)),
		light,
		field(KeyStudent, payment.StudentName),
		field(KeyLevel, payment.Level),
		field(KeyGradeGroup, payment.GradeGroup),
		field(KeyMonth, payment.Month),
		field(KeyCycle, payment.Cycle),
		field(KeyMethod, payment.Method),
		field(KeyReference, payment.Reference),
		light,
		amountLine(labels.Label(KeyAmount), FormatAmount(payment.Amount), width),
		light,
		field(KeyComments, payment.Comments),
		"",
		CenterText(labels.Label(KeyThanks), width),
	}
}

// BuildPayload renders the receipt into an immutable ticket payload.
func BuildPayload(school School, payment Payment, labels Labels, paperWidthMm float64, now time.Time) bridge.TicketPayload {
	if labels == nil {
		labels = LabelMap(nil)
	}
	lines := BuildLines(school, payment, labels, paperWidthMm, now)
	return bridge.NewTicketPayload(labels.Label(KeyTitle), lines, paperWidthMm)
}

// amountLine right-aligns amount against label within width.
func amountLine(label, amount string, width int) string {
	left := label + ":"
	gap := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(amount)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + amount
}

func orPlaceholder(s string) string {
	if t := strings.TrimSpace(s); t != "" {
		return t
	}
	return Placeholder
}
