package receipt

import "strings"

// Label keys used on the receipt.
const (
	KeyTitle      = "receipt.title"
	KeyFolio      = "receipt.folio"
	KeyDate       = "receipt.date"
	KeyPhone      = "school.phone"
	KeyStudent    = "student.name"
	KeyLevel      = "student.level"
	KeyGradeGroup = "student.gradeGroup"
	KeyMonth      = "payment.month"
	KeyCycle      = "payment.cycle"
	KeyMethod     = "payment.method"
	KeyReference  = "payment.reference"
	KeyAmount     = "payment.amount"
	KeyComments   = "payment.comments"
	KeyThanks     = "receipt.thanks"
)

// Labels resolves translated labels. Implementations are opaque to the formatter.
type Labels interface {
	Label(key string) string
}

// LabelMap is a Labels backed by a map. Missing or blank keys fall back to
// DefaultLabels, then to the key itself.
type LabelMap map[string]string

// Label implements Labels.
func (m LabelMap) Label(key string) string {
	if v := strings.TrimSpace(m[key]); v != "" {
		return v
	}
	if v, ok := DefaultLabels[key]; ok {
		return v
	}
	return key
}

// DefaultLabels are the built-in Spanish labels.
var DefaultLabels = map[string]string{
	KeyTitle:      "RECIBO DE PAGO",
	KeyFolio:      "Folio",
	KeyDate:       "Fecha",
	KeyPhone:      "Tel",
	KeyStudent:    "Alumno",
	KeyLevel:      "Nivel",
	KeyGradeGroup: "Grado/Grupo",
	KeyMonth:      "Mes",
	KeyCycle:      "Ciclo",
	KeyMethod:     "Forma de pago",
	KeyReference:  "Referencia",
	KeyAmount:     "TOTAL",
	KeyComments:   "Comentarios",
	KeyThanks:     "Gracias por su pago",
}
