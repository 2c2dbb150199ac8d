package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/nudge/internal/compose"
)

// MaxDaysToWait bounds schedule_for_later.days_to_wait.
const MaxDaysToWait = 90

var providerNames = []string{"sendgrid", "smtp", "slack", "discord"}

// decodeArgs strictly decodes raw into dst. Empty input decodes as {}.
func decodeArgs(tool Name, raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &InputError{Tool: tool, Field: typeErr.Field, Msg: fmt.Sprintf("must be %s", jsonKind(typeErr.Type.Kind().String()))}
		}
		return &InputError{Tool: tool, Msg: fmt.Sprintf("malformed arguments: %v", err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &InputError{Tool: tool, Msg: "malformed arguments: trailing data"}
	}
	return nil
}

func jsonKind(goKind string) string {
	switch goKind {
	case "string":
		return "a string"
	case "bool":
		return "a boolean"
	case "int", "int64":
		return "an integer"
	default:
		return "a " + goKind
	}
}

func required(tool Name, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &InputError{Tool: tool, Field: field, Msg: "is required"}
	}
	return nil
}

type readArgs struct {
	IncludeComplete bool `json:"include_complete"`
}

func (a *readArgs) validate() error { return nil }

type studentArgs struct {
	StudentID string `json:"student_id"`
}

func (a *studentArgs) validate(tool Name) error {
	return required(tool, "student_id", a.StudentID)
}

type draftArgs struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	Tone        string `json:"tone"`
	Urgency     string `json:"urgency"`
	Reasoning   string `json:"reasoning"`

	tone    compose.Tone
	urgency compose.Urgency
}

func (a *draftArgs) validate() error {
	if err := required(DraftMessage, "student_id", a.StudentID); err != nil {
		return err
	}
	if err := required(DraftMessage, "tone", a.Tone); err != nil {
		return err
	}
	if err := required(DraftMessage, "urgency", a.Urgency); err != nil {
		return err
	}
	if err := required(DraftMessage, "reasoning", a.Reasoning); err != nil {
		return err
	}
	var err error
	if a.tone, err = compose.ParseTone(a.Tone); err != nil {
		return &InputError{Tool: DraftMessage, Field: "tone", Msg: fmt.Sprintf("must be one of %v", compose.Tones)}
	}
	if a.urgency, err = compose.ParseUrgency(a.Urgency); err != nil {
		return &InputError{Tool: DraftMessage, Field: "urgency", Msg: fmt.Sprintf("must be one of %v", compose.Urgencies)}
	}
	return nil
}

type sendArgs struct {
	StudentID    string  `json:"student_id"`
	StudentEmail *string `json:"student_email"`
	Subject      string  `json:"subject"`
	MessageBody  string  `json:"message_body"`
	Provider     string  `json:"provider"`
	DryRun       bool    `json:"dry_run"`
}

func (a *sendArgs) validate() error {
	if err := required(SendEmail, "student_id", a.StudentID); err != nil {
		return err
	}
	if a.Provider != "" {
		ok := false
		for _, p := range providerNames {
			if a.Provider == p {
				ok = true
				break
			}
		}
		if !ok {
			return &InputError{Tool: SendEmail, Field: "provider", Msg: fmt.Sprintf("must be one of %v", providerNames)}
		}
	}
	return nil
}

type scheduleArgs struct {
	StudentID  string `json:"student_id"`
	DaysToWait *int   `json:"days_to_wait"`
	Reason     string `json:"reason"`
}

func (a *scheduleArgs) validate() error {
	if err := required(ScheduleForLater, "student_id", a.StudentID); err != nil {
		return err
	}
	if a.DaysToWait == nil {
		return &InputError{Tool: ScheduleForLater, Field: "days_to_wait", Msg: "is required"}
	}
	if d := *a.DaysToWait; d < 0 || d > MaxDaysToWait {
		return &InputError{Tool: ScheduleForLater, Field: "days_to_wait", Msg: fmt.Sprintf("must be between 0 and %d", MaxDaysToWait)}
	}
	return required(ScheduleForLater, "reason", a.Reason)
}

type skipArgs struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

func (a *skipArgs) validate() error {
	if err := required(SkipStudent, "student_id", a.StudentID); err != nil {
		return err
	}
	return required(SkipStudent, "reason", a.Reason)
}
