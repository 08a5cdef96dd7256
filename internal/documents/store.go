package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spigell/auto-applier/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Snippet is one knowledge file.
type Snippet struct {
	// Source is the file name without directory.
	Source  string
	Content string
}

// Store loads documents from local directories.
type Store struct {
	extractor PageExtractor
	workers   int
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithExtractor replaces the PDF page extractor.
func WithExtractor(e PageExtractor) Option {
	return func(s *Store) {
		s.extractor = e
	}
}

// WithWorkers bounds parallel extraction.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

func NewStore(log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		extractor: PDFExtractor{},
		workers:   defaultWorkers,
		logger:    logger.WithComponent(log, "documents"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadResumes extracts every *.pdf directly inside dir. Files that fail to
// load are logged and skipped; the directory is created when missing.
func (s *Store) LoadResumes(ctx context.Context, dir string) (*ResumeSet, error) {
	paths, err := listFiles(dir, ".pdf")
	if err != nil {
		return nil, err
	}

	s.logger.Info("loading resumes", zap.String("dir", dir), zap.Int("files", len(paths)))

	loaded := make([]*Resume, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			text, err := s.extract(path)
			if err != nil {
				s.logger.Error("failed to load resume", zap.String("file", filepath.Base(path)), zap.Error(err))
				return nil
			}

			loaded[i] = &Resume{Path: path, Text: text}
			s.logger.Info("loaded resume", zap.String("file", filepath.Base(path)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resumes := make([]Resume, 0, len(loaded))
	for _, r := range loaded {
		if r != nil {
			resumes = append(resumes, *r)
		}
	}

	return NewResumeSet(resumes...), nil
}

func (s *Store) extract(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract %s: %v", filepath.Base(path), r)
		}
	}()

	pages, err := s.extractor.Pages(path)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for _, page := range pages {
		if page == "" {
			continue
		}
		builder.WriteString(page)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// LoadSnippets reads every .txt and .md file directly inside dir.
func (s *Store) LoadSnippets(ctx context.Context, dir string) ([]Snippet, error) {
	paths, err := listFiles(dir, ".txt", ".md")
	if err != nil {
		return nil, err
	}

	s.logger.Info("loading knowledge snippets", zap.String("dir", dir), zap.Int("files", len(paths)))

	snippets := make([]Snippet, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("failed to load snippet", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}

		snippets = append(snippets, Snippet{Source: filepath.Base(path), Content: string(data)})
	}

	return snippets, nil
}

// listFiles returns absolute paths of regular files in dir with one of the
// extensions, in name order.
func listFiles(dir string, exts ...string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}

	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range exts {
			if ext == want {
				paths = append(paths, filepath.Join(abs, entry.Name()))
				break
			}
		}
	}
	return paths, nil
}
