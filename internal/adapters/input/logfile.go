package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// ErrLogSourceMissing means none of the configured log paths exist.
var ErrLogSourceMissing = errors.New("log source missing")

// AuthLogReader loads a static auth log for on-demand aggregation. Paths are
// tried in order and the first one that exists is read. Files ending in .gz
// are decompressed.
type AuthLogReader struct {
	paths          []string
	includeRotated bool
}

type AuthLogConfig struct {
	// Paths lists candidate logs, primary first.
	Paths []string

	// IncludeRotated also reads rotated siblings (auth.log.1, auth.log.2.gz,
	// ...) oldest first, before the live file.
	IncludeRotated bool
}

func DefaultAuthLogConfig() AuthLogConfig {
	return AuthLogConfig{
		Paths: []string{"/var/log/auth.log", "./sample_auth.log"},
	}
}

func NewAuthLogReader(config AuthLogConfig) *AuthLogReader {
	paths := make([]string, 0, len(config.Paths))
	for _, p := range config.Paths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return &AuthLogReader{
		paths:          paths,
		includeRotated: config.IncludeRotated,
	}
}

// Resolve returns the first configured path that exists.
func (r *AuthLogReader) Resolve() (string, error) {
	for _, p := range r.paths {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", p).Msg("Cannot stat log path")
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrLogSourceMissing, strings.Join(r.paths, ", "))
}

func (r *AuthLogReader) ReadLines(ctx context.Context) ([]string, error) {
	path, err := r.Resolve()
	if err != nil {
		return nil, err
	}

	files := []string{path}
	if r.includeRotated {
		files = append(rotatedSiblings(path), path)
	}

	var lines []string
	for _, f := range files {
		before := len(lines)
		lines, err = readFileLines(ctx, f, lines)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", f).Int("lines", len(lines)-before).Msg("Read auth log")
	}
	return lines, nil
}

func readFileLines(ctx context.Context, path string, lines []string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}

	br := newLineReader(src)
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line, _, err := readBoundedLine(br, domain.MaxLineLength)
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		lines = append(lines, line)
	}
}

// rotatedSiblings returns path.N and path.N.gz files, highest N first.
func rotatedSiblings(path string) []string {
	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return nil
	}

	type rotated struct {
		path string
		n    int
	}
	var found []rotated
	prefix := path + "."
	for _, m := range matches {
		suffix := strings.TrimSuffix(strings.TrimPrefix(m, prefix), ".gz")
		n, err := strconv.Atoi(suffix)
		if err != nil || n <= 0 {
			continue
		}
		found = append(found, rotated{path: m, n: n})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n > found[j].n })

	out := make([]string, len(found))
	for i, r := range found {
		out[i] = r.path
	}
	return out
}
