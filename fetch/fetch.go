// Package fetch retrieves raw module bytes for the graph builder. Local
// file: specifiers and inline data: specifiers are supported; remote
// schemes belong to an external caching backend and are rejected here.
package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/skiffworks/skiff/media"
	"github.com/skiffworks/skiff/permissions"
)

// ErrNotFound indicates the specifier names no retrievable content.
var ErrNotFound = errors.New("module not found")

// Result is the outcome of fetching one specifier. Specifier reflects any
// redirect the backend followed.
type Result struct {
	Specifier string
	Source    []byte
	MediaType media.Type
}

// Fetcher retrieves module content scoped to a permission snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, specifier string, perms *permissions.Container) (*Result, error)
}

// FileFetcher reads file: specifiers from disk and decodes data: specifiers
// inline.
type FileFetcher struct{}

// NewFileFetcher returns a disk-backed fetcher.
func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

// Fetch implements Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, specifier string, perms *permissions.Container) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := url.Parse(specifier)
	if err != nil {
		return nil, fmt.Errorf("invalid specifier %q: %w", specifier, err)
	}

	switch u.Scheme {
	case "file":
		return f.fetchFile(u, specifier, perms)
	case "data":
		return fetchDataURL(u, specifier)
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %q: %w", u.Scheme, specifier, ErrNotFound)
	}
}

func (f *FileFetcher) fetchFile(u *url.URL, specifier string, perms *permissions.Container) (*Result, error) {
	path := u.Path
	if err := perms.CheckRead(path); err != nil {
		return nil, err
	}
	source, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%q: %w", specifier, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %q: %w", specifier, err)
	}
	return &Result{
		Specifier: specifier,
		Source:    source,
		MediaType: media.FromPath(path),
	}, nil
}

// fetchDataURL decodes data:<mediatype>[;base64],<payload> specifiers.
func fetchDataURL(u *url.URL, specifier string) (*Result, error) {
	meta, payload, found := strings.Cut(u.Opaque, ",")
	if !found {
		return nil, fmt.Errorf("malformed data url %q", specifier)
	}

	var source []byte
	if strings.HasSuffix(meta, ";base64") {
		meta = strings.TrimSuffix(meta, ";base64")
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding data url %q: %w", specifier, err)
		}
		source = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding data url %q: %w", specifier, err)
		}
		source = []byte(unescaped)
	}

	return &Result{
		Specifier: specifier,
		Source:    source,
		MediaType: mediaTypeFromMime(meta),
	}, nil
}

func mediaTypeFromMime(mime string) media.Type {
	switch strings.TrimSpace(mime) {
	case "application/typescript", "text/typescript":
		return media.TypeScript
	case "application/json", "text/json":
		return media.Json
	case "application/javascript", "text/javascript", "":
		return media.JavaScript
	default:
		return media.Unknown
	}
}

// MemoryFetcher serves content from an in-memory map. It exists for tests
// and for embedding pre-bundled sources.
type MemoryFetcher struct {
	Modules map[string]Result
}

// NewMemoryFetcher returns a fetcher over the given specifier contents.
func NewMemoryFetcher(modules map[string]Result) *MemoryFetcher {
	return &MemoryFetcher{Modules: modules}
}

// Fetch implements Fetcher.
func (m *MemoryFetcher) Fetch(ctx context.Context, specifier string, perms *permissions.Container) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, ok := m.Modules[specifier]
	if !ok {
		return nil, fmt.Errorf("%q: %w", specifier, ErrNotFound)
	}
	if result.Specifier == "" {
		result.Specifier = specifier
	}
	return &result, nil
}
