package exports

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"factorchain/crypto"
	"factorchain/native/factoring"
)

func sampleRows() []Row {
	five := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	funded := &factoring.Loan{
		InvoiceID:       3,
		Amount:          five,
		Lender:          crypto.ModuleAddress("lender"),
		Borrower:        crypto.ModuleAddress("borrower"),
		Status:          factoring.StatusFunded,
		FundedAt:        1_700_000_000,
		InterestRateBps: 1500,
		DueDate:         1_700_432_000,
	}
	repaid := funded.Clone()
	repaid.InvoiceID = 1
	repaid.Status = factoring.StatusRepaid
	repaid.ResolvedAt = 1_700_100_000
	defaulted := funded.Clone()
	defaulted.InvoiceID = 2
	defaulted.Status = factoring.StatusDefaulted
	defaulted.ResolvedAt = 1_700_500_000
	return []Row{RowFromLoan(funded), RowFromLoan(repaid), RowFromLoan(defaulted)}
}

func TestWriteLoanBook(t *testing.T) {
	dir := t.TempDir()
	exporter := NewExporter(dir)
	exporter.now = func() time.Time { return time.Unix(1_700_200_000, 0) }

	result, err := exporter.Write(sampleRows())
	require.NoError(t, err)
	require.Equal(t, 3, result.Rows)
	require.Equal(t, dir, filepath.Dir(result.Dir))

	file, err := os.Open(result.CSVPath)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "1", records[1][0])
	require.Equal(t, "repaid", records[1][1])
	require.Equal(t, "5750000000000000000", records[1][5])
	require.Equal(t, "3", records[3][0])
	require.Equal(t, "", records[3][9])

	fr, err := local.NewLocalFileReader(result.ParquetPath)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())
	rows := make([]parquetRow, 3)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(2), rows[1].InvoiceID)
	require.Equal(t, "defaulted", rows[1].Status)
	require.Equal(t, int32(1500), rows[1].InterestRateBps)
}

func TestLoanBookJSONLChecksum(t *testing.T) {
	rows := sampleRows()
	data, checksum, err := LoanBookJSONL(rows)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "\"status\":\"funded\"") {
		t.Fatalf("missing status: %s", lines[0])
	}
	sum := sha256.Sum256(data)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}

	result, err := NewExporter(t.TempDir()).Write(rows)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	written, err := os.ReadFile(result.JSONLPath)
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	sum = sha256.Sum256(written)
	if result.Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("result checksum does not match file")
	}
}

func TestSummarize(t *testing.T) {
	rows := sampleRows()
	summary := Summarize(rows, time.Unix(1_700_000_100, 0))
	require.Equal(t, 1, summary.Funded)
	require.Equal(t, 1, summary.Repaid)
	require.Equal(t, 1, summary.Defaulted)
	require.Equal(t, 0, summary.Overdue)
	require.Equal(t, "5000000000000000000", summary.Outstanding.String())

	late := Summarize(rows, time.Unix(1_700_432_000, 0))
	require.Equal(t, 1, late.Overdue)
}

func TestWriteEmptyBook(t *testing.T) {
	result, err := NewExporter(t.TempDir()).Write(nil)
	require.NoError(t, err)
	require.Zero(t, result.Rows)
	require.FileExists(t, result.CSVPath)
	require.FileExists(t, result.ParquetPath)
}
