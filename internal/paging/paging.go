// Package paging drives cursor-based fetch loops against the management API.
package paging

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
)

const DefaultPageSize = 100

// ErrPagingLoop is matched by every *PagingLoopError.
var ErrPagingLoop = errors.New("paging loop detected")

// PagingLoopError reports a cursor the API handed out twice.
type PagingLoopError struct {
	Cursor string
	Page   int
}

func (e *PagingLoopError) Error() string {
	return fmt.Sprintf("paging loop detected: cursor %q repeated after page %d", e.Cursor, e.Page)
}

func (e *PagingLoopError) Is(target error) bool { return target == ErrPagingLoop }

// Page is one response of a paginated call. NextCursor is whatever the API
// returned for continuation: a bare cursor token or a query string with a
// cursor parameter. Empty means there is nothing more.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// Fetcher fetches one page starting at cursor ("" for the first page).
type Fetcher[T any] func(ctx context.Context, cursor string, count int) (Page[T], error)

// Options bounds a Collect run. Zero values mean DefaultPageSize and no limit.
type Options struct {
	PageSize int
	MaxPages int
	MaxItems int
}

func (o Options) count(have int) int {
	size := o.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if o.MaxItems > 0 && o.MaxItems-have < size {
		return o.MaxItems - have
	}
	return size
}

// Collect fetches pages until the cursor runs out or a limit in opts is hit,
// and returns the concatenated items.
func Collect[T any](ctx context.Context, fetch Fetcher[T], opts Options) ([]T, error) {
	var items []T
	seen := make(map[string]struct{})
	cursor := ""

	for page := 1; ; page++ {
		if opts.MaxPages > 0 && page > opts.MaxPages {
			return items, nil
		}

		p, err := fetch(ctx, cursor, opts.count(len(items)))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		items = append(items, p.Items...)
		if opts.MaxItems > 0 && len(items) >= opts.MaxItems {
			return items[:opts.MaxItems], nil
		}

		next := NormalizeCursor(p.NextCursor)
		if next == "" {
			return items, nil
		}
		if _, dup := seen[next]; dup || next == cursor {
			return nil, &PagingLoopError{Cursor: next, Page: page}
		}
		seen[next] = struct{}{}
		cursor = next

		if err := yield(ctx); err != nil {
			return nil, err
		}
	}
}

// yield gives other goroutines a chance to run between pages and stops the
// loop once ctx is done.
func yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// NormalizeCursor extracts the cursor token from raw. raw may be a bare
// token, a query string ("count=10&cursor=abc") or a full URL carrying one.
func NormalizeCursor(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.Contains(raw, "cursor=") {
		return raw
	}

	query := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i+1:]
	}
	if values, err := url.ParseQuery(query); err == nil {
		return values.Get("cursor")
	}

	// Malformed escapes elsewhere in the query; pick the parameter by hand.
	for _, part := range strings.Split(query, "&") {
		if v, ok := strings.CutPrefix(part, "cursor="); ok {
			if unescaped, err := url.QueryUnescape(v); err == nil {
				return unescaped
			}
			return v
		}
	}
	return ""
}
