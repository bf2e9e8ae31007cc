package testbank

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxExcelOptions matches the option limit on QuestionInput.
const maxExcelOptions = 10

type QuestionImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type QuestionImportReport struct {
	TotalRows   int                      `json:"total_rows"`
	SuccessRows int                      `json:"success_rows"`
	FailedRows  int                      `json:"failed_rows"`
	Errors      []QuestionImportRowError `json:"errors"`
}

func excelHeaders() []string {
	headers := []string{"question_english", "question_tamil"}
	for i := 1; i <= maxExcelOptions; i++ {
		headers = append(headers, fmt.Sprintf("option_%d_english", i), fmt.Sprintf("option_%d_tamil", i))
	}
	return append(headers, "correct_option")
}

// ExportQuestionsExcel writes the test's questions in the import layout, so an
// exported sheet can be edited and imported into another test.
func (s *Service) ExportQuestionsExcel(ctx context.Context, testID int64) ([]byte, error) {
	items, err := s.ListQuestions(ctx, testID)
	if err != nil {
		return nil, err
	}
	return buildQuestionsWorkbook(items)
}

func buildQuestionsWorkbook(items []Question) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	headers := excelHeaders()
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, q := range items {
		row := i + 2
		values := make([]any, len(headers))
		values[0] = q.Question.En
		values[1] = q.Question.Ta
		correct := ""
		for j, o := range q.Options {
			if j >= maxExcelOptions {
				break
			}
			values[2+j*2] = o.Text.En
			values[3+j*2] = o.Text.Ta
			if o.IsCorrect && correct == "" {
				correct = strconv.Itoa(j + 1)
			}
		}
		values[len(values)-1] = correct
		for col, v := range values {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "B", 48)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportQuestionsExcel adds one question per valid data row. Invalid rows are
// reported and skipped. Valid rows are stored in one transaction, so a database
// failure leaves the test unchanged.
func (s *Service) ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*QuestionImportReport, error) {
	if _, err := s.GetTest(ctx, testID); err != nil {
		return nil, err
	}

	inputs, report, err := parseQuestionsWorkbook(r)
	if err != nil {
		return nil, err
	}
	if err := s.importQuestions(ctx, testID, inputs, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) importQuestions(ctx context.Context, testID int64, rows []parsedRow, report *QuestionImportReport) error {
	valid := make([]QuestionInput, 0, len(rows))
	for _, in := range rows {
		q := normalizeQuestionInput(in.input)
		if err := validateQuestionInput(q); err != nil {
			report.fail(in.row, err.Error())
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range valid {
		if _, err := insertQuestion(ctx, tx, testID, q); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tests SET updated_at = now() WHERE id = $1`, testID); err != nil {
		return fmt.Errorf("touch test: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	report.SuccessRows += len(valid)
	return nil
}

type parsedRow struct {
	row   int
	input QuestionInput
}

func (r *QuestionImportReport) fail(row int, msg string) {
	r.FailedRows++
	r.Errors = append(r.Errors, QuestionImportRowError{Row: row, Error: msg})
}

func parseQuestionsWorkbook(r io.Reader) ([]parsedRow, *QuestionImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot open excel file", ErrInvalidInput)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"question_english", "option_1_english", "option_2_english", "correct_option"} {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &QuestionImportReport{Errors: make([]QuestionImportRowError, 0)}
	out := make([]parsedRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		if isBlankRow(row) {
			continue
		}
		report.TotalRows++

		correctIdx, err := strconv.Atoi(get("correct_option"))
		if err != nil || correctIdx < 1 || correctIdx > maxExcelOptions {
			report.fail(rowNo, fmt.Sprintf("correct_option must be a number between 1 and %d", maxExcelOptions))
			continue
		}

		in := QuestionInput{Question: LocalizedText{En: get("question_english"), Ta: get("question_tamil")}}
		correctFound := false
		for n := 1; n <= maxExcelOptions; n++ {
			en := get(fmt.Sprintf("option_%d_english", n))
			ta := get(fmt.Sprintf("option_%d_tamil", n))
			if en == "" && ta == "" {
				continue
			}
			isCorrect := n == correctIdx
			correctFound = correctFound || isCorrect
			in.Options = append(in.Options, OptionInput{Text: LocalizedText{En: en, Ta: ta}, IsCorrect: isCorrect})
		}
		if !correctFound {
			report.fail(rowNo, fmt.Sprintf("correct_option %d points to an empty option", correctIdx))
			continue
		}
		out = append(out, parsedRow{row: rowNo, input: in})
	}
	return out, report, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
