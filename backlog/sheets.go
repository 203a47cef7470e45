package backlog

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsTable is a Sheet backed by one worksheet of a Google spreadsheet.
type SheetsTable struct {
	svc           *sheets.Service
	spreadsheetID string
	worksheet     string
}

// NewSheetsTable authenticates with a service-account JSON key file.
func NewSheetsTable(ctx context.Context, credentialsFile, spreadsheetID, worksheet string, opts ...option.ClientOption) (*SheetsTable, error) {
	opts = append([]option.ClientOption{
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &SheetsTable{svc: svc, spreadsheetID: spreadsheetID, worksheet: worksheet}, nil
}

func (s *SheetsTable) Rows(ctx context.Context) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(s.worksheet)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		cells := make([]string, len(r))
		for j, v := range r {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		rows[i] = cells
	}
	return rows, nil
}

func (s *SheetsTable) UpdateCell(ctx context.Context, row, col int, value string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, cellRange(s.worksheet, row, col), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// cellRange renders A1 notation, e.g. work!C2.
func cellRange(worksheet string, row, col int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(worksheet), columnLetters(col), row)
}

func columnLetters(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// quoteSheet quotes worksheet names that A1 notation would otherwise misread.
func quoteSheet(name string) string {
	if strings.ContainsAny(name, " !'-") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}
