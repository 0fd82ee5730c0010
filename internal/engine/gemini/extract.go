package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moneyrag.io/backend/internal/engine"
	"moneyrag.io/backend/internal/store"
)

const (
	defaultCategory = "Uncategorized"

	extractInstruction = "You extract financial transactions from user documents. " +
		"Return only a JSON array. Each element has the keys date (YYYY-MM-DD), description, amount " +
		"(positive number, no currency symbol), category and merchant_name. " +
		"Use an empty string when a field is unknown. Do not invent transactions."

	csvExtractPrompt  = "Extract every transaction from this CSV export:\n\n%s"
	billExtractPrompt = "Extract the purchase on this receipt or bill as transactions. " +
		"If the bill lists a single total, return one transaction for the total."
)

// extractedTransaction is the JSON shape the model is asked to produce
type extractedTransaction struct {
	Date         string `json:"date"`
	Description  string `json:"description"`
	Amount       amount `json:"amount"`
	Category     string `json:"category"`
	MerchantName string `json:"merchant_name"`
}

// amount accepts a JSON number or string. Values that do not parse leave it invalid rather than
// failing the whole reply.
type amount struct {
	value decimal.Decimal
	valid bool
}

func (a *amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil || string(b) == "null" {
		return nil
	}
	a.value, a.valid = d.Abs(), true
	return nil
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006", "02.01.2006", "Jan 2, 2006", "2 Jan 2006"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// stripFences removes a surrounding markdown code fence, if any
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseExtraction turns the model's JSON reply into transactions attributed to doc. Rows without
// a usable date, a positive amount or any description are dropped; skipped reports how many.
func parseExtraction(raw string, doc engine.Document) (txs []store.Transaction, skipped int, err error) {
	var rows []extractedTransaction
	if err := json.Unmarshal([]byte(stripFences(raw)), &rows); err != nil {
		return nil, 0, fmt.Errorf("model returned malformed extraction: %w", err)
	}

	source := store.SourceCSV
	if doc.Kind == store.FileKindBill {
		source = store.SourceBill
	}

	txs = make([]store.Transaction, 0, len(rows))
	for _, r := range rows {
		date, err := parseDate(r.Date)
		if err != nil || !r.Amount.valid || !r.Amount.value.IsPositive() {
			skipped++
			continue
		}
		description := strings.TrimSpace(r.Description)
		merchant := strings.TrimSpace(r.MerchantName)
		if description == "" {
			description = merchant
		}
		if description == "" {
			skipped++
			continue
		}
		category := strings.TrimSpace(r.Category)
		if category == "" {
			category = defaultCategory
		}

		tx := store.Transaction{
			Description:  description,
			Amount:       r.Amount.value,
			TransDate:    date,
			Category:     category,
			MerchantName: merchant,
			Source:       source,
		}
		if doc.FileID != "" {
			fileID := doc.FileID
			tx.FileID = &fileID
		}
		txs = append(txs, tx)
	}
	return txs, skipped, nil
}

// documentText is the text embedded for a stored transaction
func documentText(tx store.Transaction) string {
	merchant := tx.MerchantName
	if merchant == "" {
		merchant = "-"
	}
	return fmt.Sprintf("%s | %s | %s | %s | %s",
		tx.TransDate.Format("2006-01-02"), merchant, tx.Category, tx.Amount.StringFixed(2), tx.Description)
}
