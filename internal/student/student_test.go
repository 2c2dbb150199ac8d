package student

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleCSV = `Student Name,Roll Number,Institute Name,Enrolled program,Stream,Date of birth,Gender,email address,previous education qualification,primary language,Nationality,Hostel
Asha Rao,21BCS001,IIIT Dharwad,B.Tech,CSE,2003-04-01,F,asha@example.com,XII,Kannada,Indian,H1
Vikram,,IIIT Raichur,B.Tech,,nan,M,,XII,,Indian,
,,,,,,,,,,,
Meera,21BCS003,IIIT Dharwad,B.Tech,ECE,2003-09-12,F,meera@example.com,XII,Hindi,N/A,
`

func TestFieldKey(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Student Name", "student_name"},
		{"  roll number ", "roll_number"},
		{"Email", "email"},
		{"email address", "email"},
		{"PREVIOUS EDUCATION QUALIFICATION", "previous_education"},
		{"Hostel", "Hostel"},
	}
	for _, tt := range tests {
		if got := FieldKey(tt.header); got != tt.want {
			t.Errorf("FieldKey(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestLabel_UnknownFallsBack(t *testing.T) {
	if got := Label("email"); got != "Email Address" {
		t.Errorf("Label(email) = %q", got)
	}
	if got := Label("blood_group"); got != "blood_group" {
		t.Errorf("Label(blood_group) = %q, want raw key", got)
	}
}

func TestReadCSV(t *testing.T) {
	records, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (blank row skipped)", len(records))
	}

	ids := []string{records[0].ID, records[1].ID, records[2].ID}
	if diff := cmp.Diff([]string{"student_0", "student_1", "student_3"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	asha := records[0]
	if !asha.Complete() {
		t.Errorf("asha missing %v", asha.MissingFields())
	}
	if asha.CompletionRatio() != 1.0 {
		t.Errorf("asha ratio = %v, want 1", asha.CompletionRatio())
	}
	if asha.Fields["Hostel"] != "H1" {
		t.Errorf("unknown column not kept: %v", asha.Fields)
	}

	vikram := records[1]
	want := []string{"roll_number", "stream", "date_of_birth", "email", "primary_language"}
	if diff := cmp.Diff(want, vikram.MissingFields()); diff != "" {
		t.Errorf("vikram missing mismatch (-want +got):\n%s", diff)
	}
	if vikram.Email() != "" {
		t.Errorf("Email() = %q, want empty", vikram.Email())
	}

	meera := records[2]
	if diff := cmp.Diff([]string{"nationality"}, meera.MissingFields()); diff != "" {
		t.Errorf("meera missing mismatch (-want +got):\n%s", diff)
	}
}

func TestIncomplete(t *testing.T) {
	records, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	inc := Incomplete(records)
	if len(inc) != 2 || inc[0].ID != "student_1" || inc[1].ID != "student_3" {
		t.Errorf("Incomplete = %+v", inc)
	}
}

func TestNewRecord_DuplicateAliasFillsBlank(t *testing.T) {
	rec := NewRecord(0, []string{"Email", "email address"}, []string{"", "x@y.z"})
	if rec.Email() != "x@y.z" {
		t.Errorf("Email() = %q, want x@y.z", rec.Email())
	}
	rec = NewRecord(0, []string{"Email", "email address"}, []string{"a@b.c", ""})
	if rec.Email() != "a@b.c" {
		t.Errorf("Email() = %q, want a@b.c", rec.Email())
	}
}

func TestReadCSV_Empty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "students.csv")
	if err := os.WriteFile(path, []byte("\ufeff"+sampleCSV), 0644); err != nil {
		t.Fatal(err)
	}
	records, err := CSVSource{Path: path}.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if records[0].Name() != "Asha Rao" {
		t.Errorf("Name() = %q, BOM not stripped from header?", records[0].Name())
	}

	_, err = CSVSource{Path: filepath.Join(t.TempDir(), "nope.csv")}.Records(context.Background())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSheetsSource(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"range":"Form Responses!A1:C3","values":[
			["Student Name","Roll Number","Email"],
			["Asha","21BCS001","asha@example.com"],
			["Ravi",42]
		]}`))
	}))
	defer srv.Close()

	src := SheetsSource{SheetID: "sheet-1", Range: "Form Responses", BaseURL: srv.URL, Client: srv.Client()}
	records, err := src.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if gotPath != "/spreadsheets/sheet-1/values/Form%20Responses" {
		t.Errorf("path = %q", gotPath)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[1].Value("roll_number") != "42" {
		t.Errorf("roll_number = %q, want 42", records[1].Value("roll_number"))
	}
	if records[1].Email() != "" {
		t.Errorf("short row email = %q, want empty", records[1].Email())
	}
}

func TestSheetsSource_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := SheetsSource{SheetID: "s", BaseURL: srv.URL, Client: srv.Client()}.Records(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("err = %v, want status 403", err)
	}
}

func TestSheetsSource_BadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	os.WriteFile(path, []byte(`{"type":"authorized_user"}`), 0600)
	_, err := SheetsSource{SheetID: "s", CredentialsFile: path}.Records(context.Background())
	if err == nil || !strings.Contains(err.Error(), "parse credentials") {
		t.Fatalf("err = %v, want parse credentials error", err)
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	records, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	var buf strings.Builder
	if err := WriteCSV(&buf, records); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Student Name,Roll Number,") {
		t.Errorf("header = %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}

	again, err := ReadCSV(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ReadCSV of snapshot: %v", err)
	}
	if diff := cmp.Diff(records, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
