package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// LoanBookJSONL builds a JSON Lines export of rows and returns the payload
// alongside its SHA-256 checksum.
func LoanBookJSONL(rows []Row) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := map[string]interface{}{
			"invoiceId":       row.InvoiceID,
			"status":          row.Status,
			"lender":          row.Lender,
			"borrower":        row.Borrower,
			"principal":       row.Principal,
			"repaymentDue":    row.RepaymentDue,
			"interestRateBps": row.InterestRateBps,
			"fundedAt":        formatUnix(row.FundedAt),
			"dueDate":         formatUnix(row.DueDate),
			"resolvedAt":      formatUnix(row.ResolvedAt),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
