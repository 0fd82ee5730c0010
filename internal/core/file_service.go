package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/engine"
	"moneyrag.io/backend/internal/ingest"
	"moneyrag.io/backend/internal/ledger"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/store"
)

// Upload is one file received from a client
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// FileKind classifies an upload: CSV exports become csv files, images become bills
func FileKind(filename, contentType string) (kind, mimeType string, err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))

	switch {
	case ext == ".csv" || ct == "text/csv" || ct == "application/csv":
		return store.FileKindCSV, "text/csv", nil
	case strings.HasPrefix(ct, "image/"):
		return store.FileKindBill, ct, nil
	}
	if mt, ok := imageExtensions[ext]; ok {
		return store.FileKindBill, mt, nil
	}
	return "", "", apperr.Newf(apperr.KindValidation, "unsupported file %q: upload a CSV export or an image of a bill", filename)
}

// FileService stores uploads and ingests them in the background
type FileService struct {
	files   store.FileStore
	configs *ConfigService
	ledger  *ledger.Deduplicator
	tracker *ingest.Tracker
	log     *zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewFileService(files store.FileStore, configs *ConfigService, dedup *ledger.Deduplicator, tracker *ingest.Tracker) *FileService {
	ctx, cancel := context.WithCancel(context.Background())
	return &FileService{
		files:   files,
		configs: configs,
		ledger:  dedup,
		tracker: tracker,
		log:     logger.Named("file_service"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (s *FileService) List(ctx context.Context, tenantID string) ([]store.File, error) {
	files, err := s.files.ListFiles(ctx, tenantID)
	if err != nil {
		return nil, classifyStore(err, "failed to load files")
	}
	return files, nil
}

// Upload stores every file and starts ingesting them. It returns the new file ids; progress is
// reported through the ingestion tracker.
func (s *FileService) Upload(ctx context.Context, tenantID string, uploads []Upload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, apperr.New(apperr.KindValidation, "No files provided")
	}
	if _, err := s.configs.Require(ctx, tenantID); err != nil {
		return nil, err
	}

	files := make([]store.File, 0, len(uploads))
	for _, u := range uploads {
		if len(u.Content) == 0 {
			return nil, apperr.Newf(apperr.KindValidation, "file %q is empty", u.Filename)
		}
		kind, mimeType, err := FileKind(u.Filename, u.ContentType)
		if err != nil {
			return nil, err
		}
		files = append(files, store.File{
			TenantID:    tenantID,
			Filename:    filepath.Base(u.Filename),
			Kind:        kind,
			ContentType: mimeType,
			Content:     u.Content,
		})
	}

	ids := make([]string, 0, len(files))
	for i := range files {
		if err := s.files.CreateFile(ctx, &files[i]); err != nil {
			return nil, classifyStore(err, "failed to store file")
		}
		ids = append(ids, files[i].ID)
	}

	run := s.tracker.Start(tenantID, fmt.Sprintf("Processing %d file(s)", len(files)))
	s.wg.Add(1)
	go s.ingest(tenantID, run, files)

	logger.C(ctx).Info().Strs("file_ids", ids).Msg("upload stored, ingestion started")
	return ids, nil
}

func (s *FileService) ingest(tenantID string, run ingest.Run, files []store.File) {
	defer s.wg.Done()

	ctx := logger.WithTenant(s.baseCtx, tenantID)
	log := logger.C(ctx)

	total, err := s.ingestFiles(ctx, tenantID, files)
	if err != nil {
		log.Error().Err(err).Msg("ingestion failed")
		s.tracker.Fail(tenantID, run, err)
		return
	}
	log.Info().Int("files", len(files)).Int("transactions", total).Msg("ingestion complete")
	s.tracker.Finish(tenantID, run, fmt.Sprintf("Ingested %d transaction(s) from %d file(s)", total, len(files)))
}

func (s *FileService) ingestFiles(ctx context.Context, tenantID string, files []store.File) (int, error) {
	eng, err := s.configs.Engine(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, f := range files {
		txs, err := eng.Extract(ctx, engine.Document{
			FileID:      f.ID,
			Filename:    f.Filename,
			Kind:        f.Kind,
			ContentType: f.ContentType,
			Content:     f.Content,
		})
		if err != nil {
			return total, fmt.Errorf("%s: %w", f.Filename, err)
		}

		stored, err := s.ledger.UpsertBatch(ctx, tenantID, txs)
		if err != nil {
			return total, fmt.Errorf("%s: %w", f.Filename, err)
		}
		if err := eng.Index(ctx, stored); err != nil {
			return total, fmt.Errorf("%s: failed to index transactions: %w", f.Filename, err)
		}
		total += len(stored)
	}
	return total, nil
}

// Delete removes a file and the transactions ingested from it, then drops the tenant's engine so
// it no longer answers from them.
func (s *FileService) Delete(ctx context.Context, tenantID, fileID, kind string) (*store.File, error) {
	if kind != store.FileKindCSV && kind != store.FileKindBill {
		return nil, apperr.Newf(apperr.KindValidation, "type must be %q or %q", store.FileKindCSV, store.FileKindBill)
	}
	deleted, err := s.files.DeleteFile(ctx, tenantID, fileID, kind)
	if err != nil {
		return nil, classifyStore(err, "failed to delete file")
	}
	if deleted == nil {
		return nil, apperr.New(apperr.KindNotFound, "File not found")
	}

	s.configs.Invalidate(ctx, tenantID)
	return deleted, nil
}

// Close cancels running ingestions and waits for them to stop, or for ctx to end
func (s *FileService) Close(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ingestions: %w", ctx.Err())
	}
}
