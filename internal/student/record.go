// Package student holds student profile records and the sources that
// produce them.
package student

import (
	"fmt"
	"strings"
)

// Mandatory profile fields, in display order.
var MandatoryFields = []string{
	"student_name",
	"roll_number",
	"institute_name",
	"enrolled_program",
	"stream",
	"date_of_birth",
	"gender",
	"email",
	"previous_education",
	"primary_language",
	"nationality",
}

// CriticalFields are the mandatory fields without which a student cannot be
// identified or contacted.
var CriticalFields = []string{"email", "roll_number", "student_name"}

// headerAliases maps normalised sheet headers to field keys.
var headerAliases = map[string]string{
	"student name":                     "student_name",
	"roll number":                      "roll_number",
	"institute name":                   "institute_name",
	"enrolled program":                 "enrolled_program",
	"stream":                           "stream",
	"date of birth":                    "date_of_birth",
	"gender":                           "gender",
	"email address":                    "email",
	"email":                            "email",
	"previous education qualification": "previous_education",
	"primary language":                 "primary_language",
	"nationality":                      "nationality",
}

// displayLabels maps field keys to the labels shown to students.
var displayLabels = map[string]string{
	"student_name":       "Student Name",
	"roll_number":        "Roll Number",
	"institute_name":     "Institute Name",
	"enrolled_program":   "Enrolled Program",
	"stream":             "Stream",
	"date_of_birth":      "Date of Birth",
	"gender":             "Gender",
	"email":              "Email Address",
	"previous_education": "Previous Education Qualification",
	"primary_language":   "Primary Language",
	"nationality":        "Nationality",
}

// FieldKey maps a column header to its field key. Headers outside the known
// table are returned trimmed but otherwise unchanged.
func FieldKey(header string) string {
	h := strings.TrimSpace(header)
	if key, ok := headerAliases[strings.ToLower(h)]; ok {
		return key
	}
	return h
}

// Label returns the display label for a field key, falling back to the key.
func Label(field string) string {
	if l, ok := displayLabels[field]; ok {
		return l
	}
	return field
}

// IsCritical reports whether field is in CriticalFields.
func IsCritical(field string) bool {
	for _, f := range CriticalFields {
		if f == field {
			return true
		}
	}
	return false
}

// Record is one student row. Fields is keyed by field key.
type Record struct {
	ID     string            `json:"student_id"`
	Row    int               `json:"row_index"`
	Fields map[string]string `json:"fields"`
}

// RecordID derives the stable identity of the data row at index row.
func RecordID(row int) string {
	return fmt.Sprintf("student_%d", row)
}

// NewRecord builds a record from a header row and one data row.
func NewRecord(row int, headers, values []string) Record {
	fields := make(map[string]string, len(headers))
	for i, h := range headers {
		key := FieldKey(h)
		if key == "" {
			continue
		}
		var v string
		if i < len(values) {
			v = strings.TrimSpace(values[i])
		}
		// A later alias for the same field only fills a blank.
		if existing, ok := fields[key]; ok && !blank(existing) {
			continue
		}
		fields[key] = v
	}
	return Record{ID: RecordID(row), Row: row, Fields: fields}
}

// Value returns the trimmed value of a field, or "" when it is missing.
func (r Record) Value(field string) string {
	v := strings.TrimSpace(r.Fields[field])
	if blank(v) {
		return ""
	}
	return v
}

// Name returns the student's name, or "" when missing.
func (r Record) Name() string { return r.Value("student_name") }

// Email returns the student's email address, or "" when missing.
func (r Record) Email() string { return r.Value("email") }

// MissingFields returns the mandatory fields without a usable value, in
// MandatoryFields order.
func (r Record) MissingFields() []string {
	var missing []string
	for _, f := range MandatoryFields {
		if r.Value(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// CompletionRatio is the fraction of mandatory fields present, in [0,1].
func (r Record) CompletionRatio() float64 {
	total := len(MandatoryFields)
	return float64(total-len(r.MissingFields())) / float64(total)
}

// Complete reports whether no mandatory field is missing.
func (r Record) Complete() bool { return len(r.MissingFields()) == 0 }

// Incomplete filters records to those with at least one missing field.
func Incomplete(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if !r.Complete() {
			out = append(out, r)
		}
	}
	return out
}

// blank reports whether a cell value counts as missing. Spreadsheet exports
// render empty cells as these placeholders.
func blank(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "nan", "none", "null", "n/a":
		return true
	}
	return false
}
