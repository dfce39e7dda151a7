// Package extract turns uploaded documents into plain text for prompting.
package extract

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"

	"github.com/nimblechat/backend/internal/config"
)

// ErrNoFilename reports an upload part without a file name.
var ErrNoFilename = errors.New("no filename provided")

// Service validates uploads and extracts their text content. PDF files are
// read page by page; every other allowed extension is treated as UTF-8 text.
type Service struct {
	maxSize    int64
	extensions []string
	maxContext int
}

// NewService builds an extractor bound to the configured upload limits.
func NewService(cfg config.UploadConfig) *Service {
	return &Service{
		maxSize:    cfg.MaxSizeBytes,
		extensions: cfg.Extensions,
		maxContext: cfg.MaxContextLength,
	}
}

// MaxSizeBytes returns the upload size cap.
func (s *Service) MaxSizeBytes() int64 {
	return s.maxSize
}

// Validate rejects uploads before any bytes are parsed: missing filename,
// size over the cap, or an extension outside the allow-list.
func (s *Service) Validate(filename string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return ErrNoFilename
	}
	if size > s.maxSize {
		return fmt.Errorf("file too large: maximum size is %s", humanize.IBytes(uint64(s.maxSize)))
	}
	if !s.allowed(extension(filename)) {
		return fmt.Errorf("unsupported file type: only %s files are allowed", strings.Join(s.extensions, ", "))
	}
	return nil
}

// Extract validates the upload and returns its text content.
func (s *Service) Extract(file io.ReaderAt, size int64, filename string) (string, error) {
	if err := s.Validate(filename, size); err != nil {
		return "", err
	}

	if extension(filename) == "pdf" {
		return extractPDF(file, size)
	}
	return extractText(file, size)
}

// Truncate caps text at the configured context length, counted in runes so
// multi-byte characters are never split.
func (s *Service) Truncate(text string) string {
	if s.maxContext <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= s.maxContext {
		return text
	}
	return string(runes[:s.maxContext])
}

func (s *Service) allowed(ext string) bool {
	for _, allowed := range s.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func extension(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

func extractText(file io.ReaderAt, size int64) (string, error) {
	content, err := io.ReadAll(io.NewSectionReader(file, 0, size))
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}
	if !utf8.Valid(content) {
		return "", errors.New("failed to extract text: file is not valid utf-8")
	}
	return string(content), nil
}

// extractPDF concatenates the plain text of every page. The pdf package
// panics on some malformed files, so the recover turns that into an error.
func extractPDF(file io.ReaderAt, size int64) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to extract text from pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(file, size)
	if err != nil {
		return "", fmt.Errorf("failed to extract text from pdf: %w", err)
	}

	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from pdf page %d: %w", i, err)
		}
		builder.WriteString(content)
	}

	return strings.TrimSpace(builder.String()), nil
}
