// Package cad serves CAD files from a local directory and exports them.
package cad

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"assist_worker/core/domain"
	"assist_worker/core/port/out"
	"assist_worker/pkg/apperr"
)

const sourceName = "cad"

var fileTypes = map[string]string{
	".sldprt": "Part",
	".sldasm": "Assembly",
	".slddrw": "Drawing",
}

// Source resolves item ids as paths relative to a root directory. Only file
// metadata is read; content stays on disk.
type Source struct {
	root    string
	maxSize int64
	log     zerolog.Logger
}

var (
	_ out.ItemSource = (*Source)(nil)
	_ out.ItemLister = (*Source)(nil)
)

func NewSource(root string, maxSize int64, log zerolog.Logger) (*Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("CAD root %q unavailable", root)).WithError(err)
	}
	if !info.IsDir() {
		return nil, apperr.ConfigError(fmt.Sprintf("CAD root %q is not a directory", root))
	}
	return &Source{root: root, maxSize: maxSize, log: log.With().Str("component", "cad_source").Logger()}, nil
}

func (s *Source) Name() string { return sourceName }

func (s *Source) Fetch(ctx context.Context, id string) (*domain.ItemContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Cancelled(err)
	}
	rel := filepath.FromSlash(id)
	if !filepath.IsLocal(rel) {
		return nil, apperr.ItemNotFound(id)
	}

	info, err := os.Stat(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ItemNotFound(id)
		}
		return nil, apperr.SourceUnavailable(sourceName, err)
	}
	if info.IsDir() {
		return nil, apperr.ItemNotFound(id)
	}
	if !domain.IsReadableCAD(rel) {
		return nil, apperr.SourceUnavailable(sourceName, fmt.Errorf("unsupported file type %q", filepath.Ext(rel))).
			WithDetail("item_id", id)
	}
	if s.maxSize > 0 && info.Size() > s.maxSize {
		s.log.Warn().Str("item_id", id).Int64("size", info.Size()).Msg("CAD file exceeds size limit")
		return nil, apperr.SourceUnavailable(sourceName, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), s.maxSize)).
			WithDetail("item_id", id)
	}

	ext := strings.ToLower(filepath.Ext(rel))
	return &domain.ItemContent{
		ID:      id,
		Source:  domain.SourceCAD,
		Subject: info.Name(),
		Metadata: map[string]string{
			"file_name":  info.Name(),
			"file_type":  fileType(ext),
			"extension":  ext,
			"size_bytes": strconv.FormatInt(info.Size(), 10),
			"modified":   info.ModTime().UTC().Format(time.RFC3339),
		},
	}, nil
}

// List returns the regular files directly under dir whose names match
// pattern. Subdirectories are not descended into.
func (s *Source) List(ctx context.Context, dir, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Cancelled(err)
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, apperr.InvalidParameter("file_pattern", fmt.Sprintf("malformed pattern %q", pattern))
	}
	rel := filepath.FromSlash(dir)
	if !filepath.IsLocal(rel) && filepath.Clean(rel) != "." {
		return nil, apperr.InvalidParameter("directory", fmt.Sprintf("directory %q is outside the CAD root", dir))
	}

	entries, err := os.ReadDir(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, apperr.InvalidParameter("directory", fmt.Sprintf("directory %q not found", dir))
		}
		return nil, apperr.SourceUnavailable(sourceName, err)
	}

	base := domain.CanonicalCADPath(dir)
	var ids []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); !ok {
			continue
		}
		ids = append(ids, path.Join(base, e.Name()))
	}
	s.log.Debug().Str("directory", dir).Str("pattern", pattern).Int("matches", len(ids)).Msg("listed CAD directory")
	return ids, nil
}

func fileType(ext string) string {
	if t, ok := fileTypes[ext]; ok {
		return t
	}
	return strings.ToUpper(strings.TrimPrefix(ext, "."))
}
