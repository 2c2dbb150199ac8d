package compose

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/zulandar/nudge/internal/student"
)

//go:embed templates/email.html.tmpl
var templateFS embed.FS

var emailTmpl = template.Must(template.New("email.html.tmpl").
	Funcs(template.FuncMap{
		"lines":   strings.Split,
		"safeCSS": func(s string) template.CSS { return template.CSS(s) },
	}).
	ParseFS(templateFS, "templates/email.html.tmpl"))

// HTMLInput carries the values shown in the HTML e-mail.
type HTMLInput struct {
	Body              string
	MissingFields     []string
	CompletionPercent float64
	FormURL           string
	SupportEmail      string
	Institute         string
	Year              int
}

type htmlView struct {
	HTMLInput
	Percent       string
	ProgressColor string
	MissingLabels []string
}

// ProgressColor picks the progress-bar colour for a completion percentage.
func ProgressColor(pct float64) string {
	switch {
	case pct < 50:
		return "#ef4444"
	case pct < 75:
		return "#f59e0b"
	default:
		return "#10b981"
	}
}

// RenderHTML renders the branded HTML version of a reminder. Student-supplied
// values are escaped by html/template.
func RenderHTML(in HTMLInput) (string, error) {
	if in.Year == 0 {
		in.Year = time.Now().Year()
	}
	labels := make([]string, len(in.MissingFields))
	for i, f := range in.MissingFields {
		labels[i] = student.Label(f)
	}
	view := htmlView{
		HTMLInput:     in,
		Percent:       fmt.Sprintf("%.0f", in.CompletionPercent),
		ProgressColor: ProgressColor(in.CompletionPercent),
		MissingLabels: labels,
	}
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("compose: render html: %w", err)
	}
	return buf.String(), nil
}
