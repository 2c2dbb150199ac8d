// Package analyzer computes profile completion and deadline pressure for a
// student. Everything here is pure: no I/O, no clock reads.
package analyzer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zulandar/nudge/internal/student"
)

// DefaultHorizonDays is used when the configured deadline cannot be parsed.
const DefaultHorizonDays = 30

// DeadlineStatus classifies days remaining until the deadline.
type DeadlineStatus string

// CompletionStatus classifies how much of the profile is filled in.
type CompletionStatus string

const (
	DeadlineCritical DeadlineStatus = "critical"
	DeadlineUrgent   DeadlineStatus = "urgent"
	DeadlineNormal   DeadlineStatus = "normal"

	CompletionCritical       CompletionStatus = "critical"
	CompletionNeedsAttention CompletionStatus = "needs_attention"
	CompletionAlmostComplete CompletionStatus = "almost_complete"
)

// Deadline is the process-wide profile completion deadline.
type Deadline struct {
	Raw   string
	Valid bool
	year  int
	month time.Month
	day   int
}

// ParseDeadline parses a YYYY-MM-DD date. An unparseable value yields a
// Deadline with Valid false rather than an error.
func ParseDeadline(s string) Deadline {
	d := Deadline{Raw: s}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return d
	}
	d.Valid = true
	d.year, d.month, d.day = t.Date()
	return d
}

// At returns midnight of the deadline date in loc.
func (d Deadline) At(loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

// DaysRemaining is the whole number of days from now until midnight of the
// deadline in now's location, rounded down. It is negative once the
// deadline has passed and DefaultHorizonDays when the deadline is invalid.
func (d Deadline) DaysRemaining(now time.Time) int {
	if !d.Valid {
		return DefaultHorizonDays
	}
	diff := d.At(now.Location()).Sub(now)
	return int(math.Floor(diff.Hours() / 24))
}

// String returns the configured deadline text.
func (d Deadline) String() string { return d.Raw }

// Profile is the analyzer's view of one student.
type Profile struct {
	Name            string
	Email           string
	MissingFields   []string
	CompletionRatio float64
}

// ProfileOf derives a Profile from a record.
func ProfileOf(rec student.Record) Profile {
	return Profile{
		Name:            rec.Name(),
		Email:           rec.Email(),
		MissingFields:   rec.MissingFields(),
		CompletionRatio: rec.CompletionRatio(),
	}
}

// Analysis is the result of analysing one profile against the deadline.
type Analysis struct {
	CompletionRatio    float64          `json:"completion_ratio"`
	CompletionPercent  float64          `json:"completion_percentage"`
	MissingFieldsCount int              `json:"missing_fields_count"`
	MissingFields      []string         `json:"missing_fields"`
	CriticalMissing    []string         `json:"critical_missing"`
	DaysRemaining      int              `json:"days_to_deadline"`
	DeadlineStatus     DeadlineStatus   `json:"deadline_status"`
	CompletionStatus   CompletionStatus `json:"completion_status"`
	HasEmail           bool             `json:"has_email"`
	Message            string           `json:"message"`
}

// Analyze classifies a profile. It never fails.
func Analyze(p Profile, deadline Deadline, now time.Time) Analysis {
	ratio := math.Max(0, math.Min(1, p.CompletionRatio))
	missing := append([]string{}, p.MissingFields...)
	critical := []string{}
	for _, f := range missing {
		if student.IsCritical(f) {
			critical = append(critical, f)
		}
	}
	days := deadline.DaysRemaining(now)
	pct := math.Round(ratio*1000) / 10

	return Analysis{
		CompletionRatio:    ratio,
		CompletionPercent:  pct,
		MissingFieldsCount: len(missing),
		MissingFields:      missing,
		CriticalMissing:    critical,
		DaysRemaining:      days,
		DeadlineStatus:     ClassifyDeadline(days),
		CompletionStatus:   ClassifyCompletion(ratio),
		HasEmail:           strings.TrimSpace(p.Email) != "",
		Message:            fmt.Sprintf("%g%% complete with %d missing fields, %d days remaining", pct, len(missing), days),
	}
}

// ClassifyDeadline maps days remaining to a DeadlineStatus.
func ClassifyDeadline(days int) DeadlineStatus {
	switch {
	case days < 7:
		return DeadlineCritical
	case days < 14:
		return DeadlineUrgent
	default:
		return DeadlineNormal
	}
}

// ClassifyCompletion maps a completion ratio to a CompletionStatus.
func ClassifyCompletion(ratio float64) CompletionStatus {
	switch {
	case ratio < 0.40:
		return CompletionCritical
	case ratio < 0.70:
		return CompletionNeedsAttention
	default:
		return CompletionAlmostComplete
	}
}
