// Package exports writes loan-book snapshots for offline reporting.
package exports

import (
	"encoding/csv"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"factorchain/native/factoring"
	"factorchain/rpc/api"
)

// Row is one loan in the book.
type Row struct {
	InvoiceID       uint64
	Status          string
	Lender          string
	Borrower        string
	Principal       string
	RepaymentDue    string
	InterestRateBps uint32
	FundedAt        int64
	DueDate         int64
	ResolvedAt      int64
}

// RowFromLoan converts a ledger loan.
func RowFromLoan(loan *factoring.Loan) Row {
	return Row{
		InvoiceID:       loan.InvoiceID,
		Status:          loan.Status.String(),
		Lender:          api.FormatAddress(loan.Lender),
		Borrower:        api.FormatAddress(loan.Borrower),
		Principal:       loan.Amount.String(),
		RepaymentDue:    loan.RepaymentDue().String(),
		InterestRateBps: loan.InterestRateBps,
		FundedAt:        loan.FundedAt,
		DueDate:         loan.DueDate,
		ResolvedAt:      loan.ResolvedAt,
	}
}

// RowFromResult converts a loan fetched over RPC.
func RowFromResult(loan api.LoanResult) Row {
	return Row{
		InvoiceID:       loan.InvoiceID,
		Status:          loan.Status,
		Lender:          loan.Lender,
		Borrower:        loan.Borrower,
		Principal:       loan.Amount,
		RepaymentDue:    loan.RepaymentDue,
		InterestRateBps: loan.InterestRateBps,
		FundedAt:        loan.FundedAt,
		DueDate:         loan.DueDate,
		ResolvedAt:      loan.ResolvedAt,
	}
}

// Summary aggregates the book.
type Summary struct {
	Funded      int
	Repaid      int
	Defaulted   int
	Outstanding *big.Int
	Overdue     int
}

// Summarize counts loans per status and sums the principal still funded.
// Funded loans past their due date at asOf are overdue.
func Summarize(rows []Row, asOf time.Time) Summary {
	summary := Summary{Outstanding: new(big.Int)}
	for _, row := range rows {
		switch row.Status {
		case factoring.StatusFunded.String():
			summary.Funded++
			if principal, ok := new(big.Int).SetString(row.Principal, 10); ok {
				summary.Outstanding.Add(summary.Outstanding, principal)
			}
			if asOf.Unix() >= row.DueDate {
				summary.Overdue++
			}
		case factoring.StatusRepaid.String():
			summary.Repaid++
		case factoring.StatusDefaulted.String():
			summary.Defaulted++
		}
	}
	return summary
}

// Result describes one export run.
type Result struct {
	RunID       uuid.UUID
	Dir         string
	CSVPath     string
	ParquetPath string
	JSONLPath   string
	Checksum    string
	Rows        int
	Summary     Summary
}

// Exporter writes loan books under a base directory, one directory per run.
type Exporter struct {
	baseDir string
	now     func() time.Time
}

// NewExporter returns an exporter rooted at baseDir.
func NewExporter(baseDir string) *Exporter {
	return &Exporter{baseDir: baseDir, now: time.Now}
}

// Write sorts rows by invoice id and writes loanbook.csv, loanbook.parquet
// and loanbook.jsonl into a fresh run directory. Checksum covers the JSONL
// payload.
func (e *Exporter) Write(rows []Row) (*Result, error) {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InvoiceID < sorted[j].InvoiceID })

	runID := uuid.New()
	now := e.now().UTC()
	dir := filepath.Join(e.baseDir, fmt.Sprintf("%s_%s", now.Format("20060102T150405Z"), runID.String()[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("exports: create run dir: %w", err)
	}
	csvPath := filepath.Join(dir, "loanbook.csv")
	if err := writeCSV(csvPath, sorted); err != nil {
		return nil, err
	}
	parquetPath := filepath.Join(dir, "loanbook.parquet")
	if err := writeParquet(parquetPath, sorted); err != nil {
		return nil, err
	}
	jsonl, checksum, err := LoanBookJSONL(sorted)
	if err != nil {
		return nil, fmt.Errorf("exports: encode jsonl: %w", err)
	}
	jsonlPath := filepath.Join(dir, "loanbook.jsonl")
	if err := os.WriteFile(jsonlPath, jsonl, 0o644); err != nil {
		return nil, fmt.Errorf("exports: write jsonl: %w", err)
	}
	return &Result{
		RunID:       runID,
		Dir:         dir,
		CSVPath:     csvPath,
		ParquetPath: parquetPath,
		JSONLPath:   jsonlPath,
		Checksum:    checksum,
		Rows:        len(sorted),
		Summary:     Summarize(sorted, now),
	}, nil
}

var csvHeader = []string{
	"invoice_id", "status", "lender", "borrower", "principal", "repayment_due",
	"interest_rate_bps", "funded_at", "due_date", "resolved_at",
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("exports: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatUint(row.InvoiceID, 10),
			row.Status,
			row.Lender,
			row.Borrower,
			row.Principal,
			row.RepaymentDue,
			strconv.FormatUint(uint64(row.InterestRateBps), 10),
			formatUnix(row.FundedAt),
			formatUnix(row.DueDate),
			formatUnix(row.ResolvedAt),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("exports: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("exports: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	InvoiceID       int64  `parquet:"name=invoice_id, type=INT64"`
	Status          string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Lender          string `parquet:"name=lender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Borrower        string `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8"`
	Principal       string `parquet:"name=principal, type=BYTE_ARRAY, convertedtype=UTF8"`
	RepaymentDue    string `parquet:"name=repayment_due, type=BYTE_ARRAY, convertedtype=UTF8"`
	InterestRateBps int32  `parquet:"name=interest_rate_bps, type=INT32"`
	FundedAt        int64  `parquet:"name=funded_at, type=INT64"`
	DueDate         int64  `parquet:"name=due_date, type=INT64"`
	ResolvedAt      int64  `parquet:"name=resolved_at, type=INT64"`
}

func writeParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			InvoiceID:       int64(row.InvoiceID),
			Status:          row.Status,
			Lender:          row.Lender,
			Borrower:        row.Borrower,
			Principal:       row.Principal,
			RepaymentDue:    row.RepaymentDue,
			InterestRateBps: int32(row.InterestRateBps),
			FundedAt:        row.FundedAt,
			DueDate:         row.DueDate,
			ResolvedAt:      row.ResolvedAt,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
