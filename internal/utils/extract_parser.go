// Package utils provides utility functions for the loan portfolio engine.
package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/models"
)

// CanonicalField names a field of models.LoanRecord that can be read from an extract.
type CanonicalField string

const (
	FieldLoanID                  CanonicalField = "loan_id"
	FieldBorrowerID              CanonicalField = "borrower_id"
	FieldBorrowerName            CanonicalField = "borrower_name"
	FieldEmployerName            CanonicalField = "employer_name"
	FieldContactDestination      CanonicalField = "contact_destination"
	FieldRecurringDueDay         CanonicalField = "recurring_due_day"
	FieldInstallmentAmount       CanonicalField = "installment_amount"
	FieldDisbursementDate        CanonicalField = "disbursement_date"
	FieldPrincipalBalance        CanonicalField = "principal_balance"
	FieldTermMonths              CanonicalField = "term_months"
	FieldInterestRate            CanonicalField = "interest_rate"
	FieldPaymentForm             CanonicalField = "payment_form"
	FieldPaymentPeriod           CanonicalField = "payment_period"
	FieldDaysOverdue             CanonicalField = "days_overdue"
	FieldOverdueInstallmentCount CanonicalField = "overdue_installment_count"
	FieldAmountDueToCatchUp      CanonicalField = "amount_due_to_catch_up"
	FieldRiskCategory            CanonicalField = "risk_category"
)

// ColumnAliases lists the header spellings accepted for one canonical field, in priority order.
type ColumnAliases struct {
	Field   CanonicalField
	Aliases []string
}

// ExtractColumns is the canonical field set of a portfolio extract.
var ExtractColumns = []ColumnAliases{
	{FieldLoanID, []string{"PAGARE"}},
	{FieldBorrowerID, []string{"CEDULASOCI", "CEDULA", "CC"}},
	{FieldBorrowerName, []string{"NOMBRE"}},
	{FieldEmployerName, []string{"NOMBREEMPR", "EMPRESA"}},
	{FieldContactDestination, []string{"NOMBREDEST", "CORREO", "EMAIL"}},
	{FieldRecurringDueDay, []string{"RAPORTES"}},
	{FieldInstallmentAmount, []string{"ANUALIDAD", "CUOTA"}},
	{FieldDisbursementDate, []string{"FECHADESEM", "FECHADESEMB"}},
	{FieldPrincipalBalance, []string{"SALDOCAPIT", "SALDO"}},
	{FieldTermMonths, []string{"PLAZO"}},
	{FieldInterestRate, []string{"TASACOLOCA", "TASA"}},
	{FieldPaymentForm, []string{"FORMAPAGO"}},
	{FieldPaymentPeriod, []string{"PERIODOCAP"}},
	{FieldDaysOverdue, []string{"DIASMORA"}},
	{FieldOverdueInstallmentCount, []string{"CUOTASMORA"}},
	{FieldAmountDueToCatchUp, []string{"SALDOPONER"}},
	{FieldRiskCategory, []string{"CATEGORIAF", "CATEGORIA", "CAT"}},
}

const utf8BOM = "\ufeff"

// NormalizeHeader prepares a header cell for alias matching.
func NormalizeHeader(h string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(h), `"`, ""))
}

// MatchColumn returns the index of the first header matching any alias, trying aliases in order.
// A header matches when either string contains the other. Empty headers never match.
func MatchColumn(headers []string, aliases []string) int {
	for _, alias := range aliases {
		a := strings.ToUpper(alias)
		for i, h := range headers {
			if h == "" {
				continue
			}
			if strings.Contains(h, a) || strings.Contains(a, h) {
				return i
			}
		}
	}
	return -1
}

// ColumnLocator resolves canonical fields to column indices for one header row.
type ColumnLocator struct {
	headers []string
	index   map[CanonicalField]int
}

// NewColumnLocator reconciles a header row against ExtractColumns.
func NewColumnLocator(header []string) *ColumnLocator {
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = NormalizeHeader(strings.TrimPrefix(h, utf8BOM))
	}

	l := &ColumnLocator{
		headers: headers,
		index:   make(map[CanonicalField]int, len(ExtractColumns)),
	}
	for _, col := range ExtractColumns {
		if i := MatchColumn(headers, col.Aliases); i >= 0 {
			l.index[col.Field] = i
		}
	}
	return l
}

// Locate returns the column index of a canonical field.
func (l *ColumnLocator) Locate(field CanonicalField) (int, bool) {
	i, ok := l.index[field]
	return i, ok
}

// Missing lists the canonical fields that no header matched.
func (l *ColumnLocator) Missing() []CanonicalField {
	var missing []CanonicalField
	for _, col := range ExtractColumns {
		if _, ok := l.index[col.Field]; !ok {
			missing = append(missing, col.Field)
		}
	}
	return missing
}

// DetectDelimiter picks the extract delimiter from its header line: semicolon, then tab, then comma.
func DetectDelimiter(firstLine string) rune {
	switch {
	case strings.Contains(firstLine, ";"):
		return ';'
	case strings.Contains(firstLine, "\t"):
		return '\t'
	default:
		return ','
	}
}

// cleanCell strips surrounding whitespace and quote characters.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return strings.TrimSpace(s)
}

// ParsedExtract is the outcome of parsing one uploaded extract.
type ParsedExtract struct {
	Records       []models.LoanRecord `json:"-"`
	CutoffDate    time.Time           `json:"cutoff_date"`
	Delimiter     string              `json:"delimiter,omitempty"`
	DataRows      int                 `json:"data_rows"`
	DroppedRows   int                 `json:"dropped_rows"`
	MissingFields []CanonicalField    `json:"missing_fields,omitempty"`
}

// ExtractParser turns portfolio extracts into loan records.
type ExtractParser struct {
	logger *zap.Logger
}

// NewExtractParser creates a new extract parser instance.
func NewExtractParser() *ExtractParser {
	return &ExtractParser{logger: GetLogger()}
}

// ParseText parses a delimited-text extract. cutoff is stamped on every record.
// Lines are split before cells, so a broken quote only affects its own row.
func (p *ExtractParser) ParseText(content string, cutoff time.Time) (*ParsedExtract, error) {
	content = strings.TrimSpace(strings.TrimPrefix(content, utf8BOM))
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return nil, models.ErrEmptyExtract
	}

	delimiter := DetectDelimiter(lines[0])

	rows := make([][]string, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, p.splitLine(line, delimiter, i+1))
	}

	parsed, err := p.ParseRows(rows, cutoff)
	if err != nil {
		return nil, err
	}
	parsed.Delimiter = string(delimiter)
	return parsed, nil
}

// splitLine reads one extract line. Quoted cells are honoured when the quotes
// balance; otherwise the line is cut on the delimiter and stray quotes dropped.
func (p *ExtractParser) splitLine(line string, delimiter rune, lineNum int) []string {
	if strings.Count(line, `"`)%2 == 0 {
		reader := csv.NewReader(strings.NewReader(line))
		reader.Comma = delimiter
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1 // Allow variable number of fields
		record, err := reader.Read()
		if err == nil {
			return record
		}
		p.logger.Warn("Falling back to plain split for extract line",
			zap.Int("line", lineNum),
			zap.Error(err),
		)
	} else {
		p.logger.Warn("Unbalanced quote in extract line",
			zap.Int("line", lineNum),
		)
	}

	cells := strings.Split(line, string(delimiter))
	for i, c := range cells {
		cells[i] = strings.Trim(c, `"`)
	}
	return cells
}

// ParseXLSX parses the first sheet of a spreadsheet extract.
func (p *ExtractParser) ParseXLSX(r io.Reader, cutoff time.Time) (*ParsedExtract, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	// Raw values keep date cells as serial numbers, which NormalizeDate understands
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	return p.ParseRows(rows, cutoff)
}

// ParseRows converts a header row plus data rows into loan records.
func (p *ExtractParser) ParseRows(rows [][]string, cutoff time.Time) (*ParsedExtract, error) {
	if len(rows) < 2 {
		return nil, models.ErrEmptyExtract
	}

	locator := NewColumnLocator(rows[0])
	cutoff = TruncateToDay(cutoff)

	result := &ParsedExtract{
		CutoffDate:    cutoff,
		MissingFields: locator.Missing(),
	}

	for _, row := range rows[1:] {
		result.DataRows++

		record := p.parseRow(locator, row, cutoff)
		if record.LoanID == "" {
			result.DroppedRows++
			continue
		}
		result.Records = append(result.Records, record)
	}

	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%w: %d data rows, none with a loan id", models.ErrNoLoanRecords, result.DataRows)
	}

	p.logger.Info("Parsed portfolio extract",
		zap.Int("data_rows", result.DataRows),
		zap.Int("records", len(result.Records)),
		zap.Int("dropped_rows", result.DroppedRows),
		zap.Int("missing_fields", len(result.MissingFields)),
	)

	return result, nil
}

// parseRow resolves every canonical field of one data row. Malformed cells degrade to defaults.
func (p *ExtractParser) parseRow(locator *ColumnLocator, row []string, cutoff time.Time) models.LoanRecord {
	getValue := func(field CanonicalField) string {
		idx, ok := locator.Locate(field)
		if !ok || idx >= len(row) {
			return ""
		}
		return cleanCell(row[idx])
	}

	optionalInt := func(field CanonicalField) *int {
		n, ok := ParseLenientInt(getValue(field))
		if !ok || n == 0 {
			return nil
		}
		return &n
	}

	daysOverdue, _ := ParseLenientInt(getValue(FieldDaysOverdue))
	if daysOverdue < 0 {
		daysOverdue = 0
	}

	overdueCount, _ := ParseLenientInt(getValue(FieldOverdueInstallmentCount))
	if overdueCount < 0 {
		overdueCount = 0
	}

	// A category supplied by the extract is trusted over recomputing it
	category, ok := models.ParseRiskCategory(getValue(FieldRiskCategory))
	if !ok {
		category = models.ClassifyRisk(daysOverdue)
	}

	return models.LoanRecord{
		LoanID:                  getValue(FieldLoanID),
		BorrowerID:              getValue(FieldBorrowerID),
		BorrowerName:            getValue(FieldBorrowerName),
		EmployerName:            getValue(FieldEmployerName),
		ContactDestination:      getValue(FieldContactDestination),
		RecurringDueDay:         optionalInt(FieldRecurringDueDay),
		InstallmentAmount:       NormalizeAmount(getValue(FieldInstallmentAmount)),
		DisbursementDate:        NormalizeDate(getValue(FieldDisbursementDate)),
		PrincipalBalance:        NormalizeAmount(getValue(FieldPrincipalBalance)),
		TermMonths:              optionalInt(FieldTermMonths),
		InterestRate:            NormalizeAmount(getValue(FieldInterestRate)),
		PaymentForm:             models.NormalizePaymentForm(getValue(FieldPaymentForm)),
		PaymentPeriod:           models.NormalizePaymentPeriod(getValue(FieldPaymentPeriod)),
		DaysOverdue:             daysOverdue,
		OverdueInstallmentCount: overdueCount,
		AmountDueToCatchUp:      NormalizeAmount(getValue(FieldAmountDueToCatchUp)),
		RiskCategory:            category,
		CutoffDate:              cutoff,
	}
}

// DetectExtractFormat decides how to parse an uploaded file from its name.
func DetectExtractFormat(filename string) (string, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".xlsx"):
		return "xlsx", nil
	case strings.HasSuffix(lower, ".csv"), strings.HasSuffix(lower, ".txt"), lower == "":
		return "text", nil
	default:
		return "", models.ErrUnsupportedFile
	}
}
