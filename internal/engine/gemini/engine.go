// Package gemini is the Google engine: transactions are embedded into an in-memory index and
// questions are answered by a Gemini chat model over the closest matches.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"moneyrag.io/backend/internal/engine"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/store"
)

const (
	NumRelevantTransactions = 25   // Number of transactions retrieved as context
	SimilarityThreshold     = 0.35 // Minimum similarity score to consider a transaction relevant
	MaxIndexedTransactions  = 5000 // Transactions loaded from the store when an engine is built
	MaxHistoryMessages      = 10

	embedBatchSize = 100

	chatSystemInstruction = "You are MoneyRAG, a personal finance assistant. Answer questions about the user's " +
		"spending using the transactions provided in the context. Each transaction is formatted as " +
		"date | merchant | category | amount | description. " +
		"If the answer is not found in the provided context, clearly state that you don't have the information. " +
		"Show totals with two decimals. Do not make up transactions."
)

// Engine is one tenant's Gemini pipeline
type Engine struct {
	tenantID string
	cfg      store.EngineConfig
	client   *genai.Client
	index    *Index
	log      *zerolog.Logger
}

var _ engine.Engine = (*Engine)(nil)

func newEngine(ctx context.Context, tenantID string, cfg store.EngineConfig) (*Engine, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	l := logger.Named("gemini").With().Str("tenant_id", tenantID).Logger()
	return &Engine{
		tenantID: tenantID,
		cfg:      cfg,
		client:   client,
		index:    NewIndex(),
		log:      &l,
	}, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	em := e.client.EmbeddingModel(e.cfg.EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Index embeds txs in batches and adds them to the in-memory index
func (e *Engine) Index(ctx context.Context, txs []store.Transaction) error {
	em := e.client.EmbeddingModel(e.cfg.EmbeddingModel)
	for start := 0; start < len(txs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(txs))
		chunk := txs[start:end]

		texts := make([]string, len(chunk))
		batch := em.NewBatch()
		for i, tx := range chunk {
			texts[i] = documentText(tx)
			batch.AddContent(genai.Text(texts[i]))
		}

		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return fmt.Errorf("gemini batch embedding request failed: %w", err)
		}
		if len(res.Embeddings) != len(chunk) {
			return fmt.Errorf("gemini returned %d embeddings for %d transactions", len(res.Embeddings), len(chunk))
		}
		for i, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				e.log.Warn().Str("transaction_id", chunk[i].ID).Msg("skipping transaction with empty embedding")
				continue
			}
			e.index.Put(chunk[i].ID, texts[i], emb.Values)
		}
	}
	e.log.Debug().Int("indexed", len(txs)).Int("total", e.index.Len()).Msg("transactions indexed")
	return nil
}

func (e *Engine) relevantContext(ctx context.Context, query string) (string, error) {
	if e.index.Len() == 0 {
		return "", nil
	}
	queryEmbedding, err := e.embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to get query embedding: %w", err)
	}

	matches := e.index.Search(queryEmbedding, NumRelevantTransactions, SimilarityThreshold)
	if len(matches) == 0 {
		e.log.Debug().Float32("threshold", SimilarityThreshold).Msg("no relevant transactions for query")
		return "", nil
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

// Ask answers question with retrieved transactions as context and history as prior turns
func (e *Engine) Ask(ctx context.Context, question string, history []store.Message) (string, error) {
	relevant, err := e.relevantContext(ctx, question)
	if err != nil {
		// Answer without context rather than failing the request.
		e.log.Warn().Err(err).Msg("failed to get relevant context, proceeding without it")
		relevant = ""
	}

	if len(history) > MaxHistoryMessages {
		history = history[len(history)-MaxHistoryMessages:]
	}
	prior := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		prior = append(prior, &genai.Content{
			Role:  msg.Sender,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	var prompt string
	if relevant != "" {
		prompt = fmt.Sprintf("Based on our previous conversation and the following transactions:\n\n--- CONTEXT START ---\n%s\n--- CONTEXT END ---\n\nNow, please answer my question: %s", relevant, question)
	} else {
		prompt = fmt.Sprintf("I couldn't find transactions related to this question. Based on our previous conversation (if any), please answer: %s", question)
	}

	model := e.client.GenerativeModel(e.cfg.DecodeModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}
	session := model.StartChat()
	session.History = prior

	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		e.log.Warn().Msg("gemini response was empty or had no text parts")
		return "I'm sorry, I couldn't generate a response at this time. Please try again.", nil
	}
	return text, nil
}

// Extract asks the decode model to read transactions out of a CSV export or a bill image
func (e *Engine) Extract(ctx context.Context, doc engine.Document) ([]store.Transaction, error) {
	model := e.client.GenerativeModel(e.cfg.DecodeModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(extractInstruction)},
	}
	model.ResponseMIMEType = "application/json"
	temp := float32(0)
	model.Temperature = &temp

	var parts []genai.Part
	switch doc.Kind {
	case store.FileKindCSV:
		parts = []genai.Part{genai.Text(fmt.Sprintf(csvExtractPrompt, string(doc.Content)))}
	case store.FileKindBill:
		parts = []genai.Part{
			genai.Blob{MIMEType: doc.ContentType, Data: doc.Content},
			genai.Text(billExtractPrompt),
		}
	default:
		return nil, fmt.Errorf("unsupported document kind %q", doc.Kind)
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini extraction request failed: %w", err)
	}
	raw := responseText(resp)
	if raw == "" {
		return nil, fmt.Errorf("gemini returned no extraction for %s", doc.Filename)
	}

	txs, skipped, err := parseExtraction(raw, doc)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		e.log.Warn().Str("file", doc.Filename).Int("skipped", skipped).Msg("dropped unusable extracted rows")
	}
	return txs, nil
}

// Teardown closes the GenAI client and drops the index
func (e *Engine) Teardown(ctx context.Context) error {
	e.index.Reset()
	if e.client == nil {
		return nil
	}
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("error closing GenAI client: %w", err)
	}
	e.log.Debug().Msg("GenAI client closed")
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
