// Package local reads documents from the local filesystem.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar"

	"github.com/papercomputeco/semsearch/pkg/document"
	"github.com/papercomputeco/semsearch/pkg/logger"
)

// DefaultMaxFileSize is the largest file read when none is configured.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// DefaultExclude skips version control metadata, dependency trees and
// build output.
var DefaultExclude = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/target/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/dist/**",
	"**/.semsearch/**",
}

var (
	ErrTooLarge = errors.New("file exceeds maximum size")
	ErrBinary   = errors.New("file is not text")
	ErrEmpty    = errors.New("file is empty")
)

// Config configures a Source.
type Config struct {
	// Root is a directory to walk or a single file.
	Root string

	// Exclude holds doublestar patterns matched against both the path
	// relative to Root and the absolute path.
	Exclude []string

	MaxFileSize int64

	// Tags are attached to every document read.
	Tags []document.Tag

	Logger *slog.Logger
}

// Stats counts what a Load saw.
type Stats struct {
	Scanned int `json:"files_scanned"`
	Skipped int `json:"files_skipped"`
}

// Source produces documents of kind local.
type Source struct {
	root        string
	single      bool
	exclude     []string
	maxFileSize int64
	tags        []document.Tag
	logger      *slog.Logger
}

func New(cfg Config) (*Source, error) {
	if cfg.Root == "" {
		return nil, errors.New("local source requires a root path")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	for _, p := range cfg.Exclude {
		if _, err := doublestar.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	return &Source{
		root:        root,
		single:      !info.IsDir(),
		exclude:     cfg.Exclude,
		maxFileSize: maxSize,
		tags:        cfg.Tags,
		logger:      logger.OrNop(cfg.Logger),
	}, nil
}

// Root is the absolute root path.
func (s *Source) Root() string {
	return s.root
}

// Files lists every non-excluded regular file under the root in lexical
// order. Symlinks are not followed.
func (s *Source) Files(ctx context.Context) ([]string, error) {
	if s.single {
		return []string{s.root}, nil
	}

	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == s.root {
			return nil
		}
		if s.excluded(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.root, err)
	}
	return files, nil
}

func (s *Source) excluded(path string, dir bool) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	rel, path = filepath.ToSlash(rel), filepath.ToSlash(path)
	if dir {
		// Match a child entry so "dir/**" patterns prune the directory.
		rel, path = rel+"/_", path+"/_"
	}
	for _, pattern := range s.exclude {
		if dir && !strings.HasSuffix(pattern, "/**") {
			continue
		}
		if matches(pattern, rel) || matches(pattern, path) {
			return true
		}
	}
	return false
}

func matches(pattern, name string) bool {
	ok, _ := doublestar.Match(pattern, name)
	return ok
}

// Read loads one file as a document.
func (s *Source) Read(path string) (*document.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > s.maxFileSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, info.Size(), s.maxFileSize)
	}
	if binaryExtension(path) {
		return nil, ErrBinary
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if !textExtension(path) && !looksText(data) {
		return nil, ErrBinary
	}
	if !utf8.Valid(data) {
		return nil, ErrBinary
	}

	doc := document.NewDocument(string(data), document.LocalSource(path), s.tags...)
	doc.Path = path
	doc.Title = filepath.Base(path)
	return doc, nil
}

// Load reads every indexable file. Files that cannot be read as text are
// counted as skipped and logged.
func (s *Source) Load(ctx context.Context) ([]*document.Document, Stats, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{Scanned: len(files)}
	docs := make([]*document.Document, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return docs, stats, err
		}
		doc, err := s.Read(path)
		if err != nil {
			stats.Skipped++
			s.logger.Debug("skipping file", "path", path, "reason", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, stats, nil
}

// looksText treats content with a NUL byte in its first 512 bytes as binary.
func looksText(data []byte) bool {
	head := data[:min(len(data), 512)]
	return bytes.IndexByte(head, 0) < 0
}

func extension(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = filepath.Base(path)
	}
	return strings.ToLower(ext)
}

func binaryExtension(path string) bool {
	_, ok := binaryExtensions[extension(path)]
	return ok
}

func textExtension(path string) bool {
	_, ok := textExtensions[extension(path)]
	return ok
}

var binaryExtensions = set(
	"exe", "dll", "so", "dylib", "a", "o", "obj",
	"png", "jpg", "jpeg", "gif", "bmp", "ico", "webp", "svg",
	"mp3", "mp4", "avi", "mkv", "mov", "wav", "flac",
	"zip", "tar", "gz", "bz2", "xz", "7z", "rar",
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
	"woff", "woff2", "ttf", "otf", "eot",
	"class", "jar", "pyc", "pyo",
	"db", "sqlite", "sqlite3", "bin", "dat", "pak",
)

var textExtensions = set(
	"rs", "py", "js", "ts", "jsx", "tsx", "go", "java", "kt", "kts",
	"c", "h", "cpp", "hpp", "cc", "cxx", "hh",
	"rb", "php", "swift", "scala", "clj", "cljs", "erl", "ex", "exs",
	"hs", "ml", "fs", "fsi", "fsx",
	"sh", "bash", "zsh", "fish", "ps1", "bat", "cmd",
	"lua", "pl", "pm", "r", "jl",
	"html", "htm", "css", "scss", "sass", "less", "vue", "svelte", "astro",
	"json", "yaml", "yml", "toml", "xml", "ini", "cfg", "env", "properties", "conf",
	"md", "markdown", "rst", "txt", "adoc", "org",
	"sql", "graphql", "gql", "prisma",
	"dockerfile", "makefile", "justfile",
	"gitignore", "gitattributes", "editorconfig",
)

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, i := range items {
		m[i] = struct{}{}
	}
	return m
}
