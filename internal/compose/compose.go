// Package compose renders profile-completion reminders from fixed templates.
package compose

import (
	"fmt"
	"strings"

	"github.com/zulandar/nudge/internal/analyzer"
	"github.com/zulandar/nudge/internal/student"
)

// Tone selects the greeting.
type Tone string

// Urgency selects the urgency sentence and subject prefix.
type Urgency string

const (
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneUrgent       Tone = "urgent"
	ToneGentle       Tone = "gentle"

	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Tones and Urgencies list the accepted values in schema order.
var (
	Tones     = []Tone{ToneFriendly, ToneProfessional, ToneUrgent, ToneGentle}
	Urgencies = []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh}
)

// ParseTone parses a tone name, case-insensitively.
func ParseTone(s string) (Tone, error) {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Tones {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("compose: unknown tone %q", s)
}

// ParseUrgency parses an urgency name, case-insensitively.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Urgencies {
		if u == v {
			return u, nil
		}
	}
	return "", fmt.Errorf("compose: unknown urgency %q", s)
}

var subjectPrefix = map[Urgency]string{
	UrgencyHigh:   "🔴 URGENT",
	UrgencyMedium: "⚠️ Action Required",
	UrgencyLow:    "📋 Reminder",
}

// CompositionError reports a missing required input.
type CompositionError struct {
	Field string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("compose: %s is required", e.Field)
}

// Message is a composed reminder.
type Message struct {
	Subject string  `json:"subject"`
	Body    string  `json:"message_body"`
	Tone    Tone    `json:"tone_used"`
	Urgency Urgency `json:"urgency_used"`
}

// Composer holds the institution details every message carries.
type Composer struct {
	Deadline     string
	FormURL      string
	SupportEmail string
	Institute    string
}

// Compose renders the subject and plain-text body. Unrecognised tone or
// urgency values fall back to professional and medium.
func (c Composer) Compose(name string, a *analyzer.Analysis, tone Tone, urgency Urgency, reasoning string) (Message, error) {
	if strings.TrimSpace(name) == "" {
		return Message{}, &CompositionError{Field: "student name"}
	}
	if a == nil {
		return Message{}, &CompositionError{Field: "analysis"}
	}
	if _, err := ParseTone(string(tone)); err != nil {
		tone = ToneProfessional
	}
	if _, err := ParseUrgency(string(urgency)); err != nil {
		urgency = UrgencyMedium
	}

	var b strings.Builder
	b.WriteString(greeting(tone, name))
	b.WriteString("\n\n")
	b.WriteString(c.urgencySentence(urgency, a.CompletionPercent))
	b.WriteString("\n\nTo ensure you have seamless access to all university services and resources, please update the following information:\n\n")
	b.WriteString(BulletList(a.MissingFields))
	fmt.Fprintf(&b, "\n\nYou can complete your profile here:\n%s\n\n", c.FormURL)
	fmt.Fprintf(&b, "If you encounter any issues or have questions, please don't hesitate to contact our support team at %s.\n\n", c.SupportEmail)
	fmt.Fprintf(&b, "Best regards,\n%s Administration", c.Institute)
	if r := strings.TrimSpace(reasoning); r != "" {
		fmt.Fprintf(&b, "\n\n---\nReasoning: %s", r)
	}

	return Message{
		Subject: Subject(urgency, a.MissingFieldsCount),
		Body:    b.String(),
		Tone:    tone,
		Urgency: urgency,
	}, nil
}

// Subject builds the subject line for urgency and a missing-field count.
func Subject(u Urgency, missing int) string {
	prefix, ok := subjectPrefix[u]
	if !ok {
		prefix = "Action Required"
	}
	return fmt.Sprintf("%s: Complete Your Profile - %d Fields Missing", prefix, missing)
}

// BulletList renders field keys as an indented bullet list of labels.
func BulletList(fields []string) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = "  • " + student.Label(f)
	}
	return strings.Join(lines, "\n")
}

func greeting(t Tone, name string) string {
	switch t {
	case ToneFriendly:
		return fmt.Sprintf("Dear %s,\n\nI hope this message finds you well!", name)
	case ToneUrgent:
		return fmt.Sprintf("Dear %s,\n\nThis is an important reminder.", name)
	case ToneGentle:
		return fmt.Sprintf("Hello %s,\n\nHope you're doing great!", name)
	default:
		return fmt.Sprintf("Dear %s,", name)
	}
}

func (c Composer) urgencySentence(u Urgency, pct float64) string {
	switch u {
	case UrgencyHigh:
		return fmt.Sprintf("Your profile is currently at %g%% completion and the deadline is %s. Immediate action is required.", pct, c.Deadline)
	case UrgencyLow:
		return fmt.Sprintf("We noticed your profile is %g%% complete. When you have a moment, please consider completing the remaining fields.", pct)
	default:
		return fmt.Sprintf("Your profile is %g%% complete. We kindly request you to update the remaining information soon.", pct)
	}
}
