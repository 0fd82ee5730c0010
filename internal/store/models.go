package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Providers accepted in an EngineConfig
const (
	ProviderGoogle = "Google"
	ProviderOpenAI = "OpenAI"
)

// EngineConfig is the per-tenant engine configuration. Treat it as a value: any field change
// describes a different engine.
type EngineConfig struct {
	Provider       string `json:"llm_provider" validate:"required,oneof=Google OpenAI"`
	APIKey         string `json:"api_key" validate:"required"`
	DecodeModel    string `json:"decode_model" validate:"required"`
	EmbeddingModel string `json:"embedding_model" validate:"required"`
}

// File kinds
const (
	FileKindCSV  = "csv"
	FileKindBill = "bill"
)

type File struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"-"`
	Filename    string    `json:"filename"`
	Kind        string    `json:"type"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Content     []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction sources
const (
	SourceManual = "manual"
	SourceCSV    = "csv"
	SourceBill   = "bill"
)

type Transaction struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"-"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	TransDate    time.Time       `json:"trans_date"`
	Category     string          `json:"category"`
	MerchantName string          `json:"merchant_name"`
	ContentHash  string          `json:"content_hash"`
	Source       string          `json:"source"`
	FileID       *string         `json:"file_id,omitempty"` // nil for manual entries
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Message senders
const (
	SenderUser  = "user"
	SenderModel = "model"
)

type Message struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"-"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
