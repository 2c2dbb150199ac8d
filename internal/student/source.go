package student

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
)

// Source yields raw student rows as records.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// fromRows converts a header row plus data rows into records. Entirely
// empty rows keep their index so identities stay positional.
func fromRows(rows [][]string) ([]Record, error) {
	if len(rows) == 0 {
		return nil, errors.New("student: source has no header row")
	}
	headers := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if emptyRow(row) {
			continue
		}
		records = append(records, NewRecord(i, headers, row))
	}
	return records, nil
}

func emptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CSVSource reads records from a CSV export of the profile sheet.
type CSVSource struct {
	Path string
}

// Records parses the CSV file. The first row is the header.
func (s CSVSource) Records(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("student: open %s: %w", s.Path, err)
	}
	defer f.Close()
	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("student: %s: %w", s.Path, err)
	}
	return records, nil
}

// ReadCSV parses records from CSV data.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("student: parse csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return fromRows(rows)
}

const sheetsScope = "https://www.googleapis.com/auth/spreadsheets.readonly"

// DefaultSheetsURL is the Google Sheets v4 API root.
const DefaultSheetsURL = "https://sheets.googleapis.com/v4"

// SheetsSource reads records from a Google Sheet (typically the form's
// response sheet) using service-account credentials.
type SheetsSource struct {
	SheetID         string
	Range           string
	CredentialsFile string

	// BaseURL overrides DefaultSheetsURL.
	BaseURL string
	// Client overrides the OAuth2 client built from CredentialsFile.
	Client *http.Client
}

type valueRange struct {
	Range  string          `json:"range"`
	Values [][]interface{} `json:"values"`
}

// Records fetches the configured range. The first row is the header.
func (s SheetsSource) Records(ctx context.Context) ([]Record, error) {
	if s.SheetID == "" {
		return nil, errors.New("student: sheet id is required")
	}
	client, err := s.httpClient(ctx)
	if err != nil {
		return nil, err
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultSheetsURL
	}
	rng := s.Range
	if rng == "" {
		rng = "Sheet1"
	}
	u := fmt.Sprintf("%s/spreadsheets/%s/values/%s",
		strings.TrimRight(base, "/"), url.PathEscape(s.SheetID), url.PathEscape(rng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("student: build sheets request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("student: fetch sheet %s: %w", s.SheetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("student: fetch sheet %s: status %d: %s", s.SheetID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var vr valueRange
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("student: decode sheet %s: %w", s.SheetID, err)
	}
	rows := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			if cell != nil {
				rows[i][j] = fmt.Sprint(cell)
			}
		}
	}
	return fromRows(rows)
}

func (s SheetsSource) httpClient(ctx context.Context) (*http.Client, error) {
	if s.Client != nil {
		return s.Client, nil
	}
	data, err := os.ReadFile(s.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("student: read credentials %s: %w", s.CredentialsFile, err)
	}
	conf, err := google.JWTConfigFromJSON(data, sheetsScope)
	if err != nil {
		return nil, fmt.Errorf("student: parse credentials %s: %w", s.CredentialsFile, err)
	}
	return conf.Client(ctx), nil
}
