// Package jobs runs the background content extraction queued for uploads.
package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/storage"
)

// maxExtractBytes caps how much of an upload is read for extraction.
const maxExtractBytes = 20 << 20

// ExtractionInput is the payload of an extract_content job.
type ExtractionInput struct {
	FileName  string `json:"fileName"`
	FileType  string `json:"fileType"`
	FileSize  int64  `json:"fileSize"`
	ObjectKey string `json:"objectKey"`
}

// Extractor is satisfied by services.AIService.
type Extractor interface {
	ExtractContent(ctx context.Context, file services.UploadedFile) (*services.ContentExtraction, error)
}

// ExtractFromStore reads an uploaded object and extracts its content.
func ExtractFromStore(ctx context.Context, store storage.ObjectStore, extractor Extractor, input ExtractionInput) (*services.ContentExtraction, error) {
	rc, err := store.Get(ctx, input.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", input.ObjectKey, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxExtractBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", input.ObjectKey, err)
	}
	return extractor.ExtractContent(ctx, services.UploadedFile{
		Name:        input.FileName,
		ContentType: input.FileType,
		Data:        data,
	})
}
