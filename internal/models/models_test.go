package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestContactEvent_Fields(t *testing.T) {
	typ := reflect.TypeOf(ContactEvent{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "RecipientID", "not null")
	assertGormTag(t, typ, "RecipientID", "uniqueIndex:idx_recipient_seq")
	assertGormTag(t, typ, "Seq", "uniqueIndex:idx_recipient_seq")
	assertGormTag(t, typ, "Status", "size:16")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "Timestamp", "not null")

	assertFieldType(t, typ, "Seq", "int")
	assertFieldType(t, typ, "Timestamp", "time.Time")
}

func TestContactEvent_StatusValues(t *testing.T) {
	for _, s := range []string{StatusSent, StatusSimulated, StatusFailed} {
		if len(s) > 16 {
			t.Errorf("status %q exceeds column size 16", s)
		}
	}
}

func TestScheduleEntry_Fields(t *testing.T) {
	typ := reflect.TypeOf(ScheduleEntry{})

	assertGormTag(t, typ, "RecipientID", "index")
	assertGormTag(t, typ, "DueAt", "index")
	assertGormTag(t, typ, "Reason", "type:text")
	assertGormTag(t, typ, "RunID", "size:36")

	assertFieldType(t, typ, "DueAt", "time.Time")
	assertFieldType(t, typ, "DaysToWait", "int")
}

func TestRun_Fields(t *testing.T) {
	typ := reflect.TypeOf(Run{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "FinalText", "type:text")

	assertFieldType(t, typ, "FinishedAt", "*time.Time")
	assertFieldType(t, typ, "StartedAt", "time.Time")
}

func TestToolCall_Fields(t *testing.T) {
	typ := reflect.TypeOf(ToolCall{})

	assertGormTag(t, typ, "RunID", "index:idx_run_turn")
	assertGormTag(t, typ, "Turn", "index:idx_run_turn")
	assertGormTag(t, typ, "Tool", "size:48")
	assertGormTag(t, typ, "Output", "type:mediumtext")

	assertFieldType(t, typ, "LatencyMs", "int")
}

func TestReasoning_Fields(t *testing.T) {
	typ := reflect.TypeOf(Reasoning{})

	assertGormTag(t, typ, "RunID", "index")
	assertGormTag(t, typ, "Content", "type:mediumtext")
}
