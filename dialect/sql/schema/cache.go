package schema

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect"
)

// CachedInspector serves column headers from an exttable.Cache and falls
// back to the wrapped Reader on a miss.
type CachedInspector struct {
	reader  Reader
	cache   exttable.Cache
	dialect dialect.Dialect
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedInspector wraps r. A zero ttl keeps entries until invalidated.
func NewCachedInspector(r Reader, c exttable.Cache, d dialect.Dialect, ttl time.Duration, logger *slog.Logger) *CachedInspector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedInspector{reader: r, cache: c, dialect: d, ttl: ttl, logger: logger}
}

func (c *CachedInspector) key(table string) string {
	return exttable.CacheKey{Dialect: c.dialect.String(), Table: table}.String()
}

// Columns implements Reader. Cache failures are logged and bypassed.
func (c *CachedInspector) Columns(ctx context.Context, table string) ([]Column, error) {
	key := c.key(table)
	if b, err := c.cache.Get(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "column cache read failed", "table", table, "error", err)
	} else if b != nil {
		var columns []Column
		if err := msgpack.Unmarshal(b, &columns); err == nil {
			return columns, nil
		}
		c.logger.WarnContext(ctx, "column cache entry undecodable", "table", table)
	}
	columns, err := c.reader.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("schema: encode columns of %q: %w", table, err)
	}
	if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "column cache write failed", "table", table, "error", err)
	}
	return columns, nil
}

// Invalidate drops the cached headers of table.
func (c *CachedInspector) Invalidate(ctx context.Context, table string) error {
	return c.cache.Delete(ctx, c.key(table))
}

// InvalidateAll drops every cached table of the dialect.
func (c *CachedInspector) InvalidateAll(ctx context.Context) error {
	return c.cache.DeletePrefix(ctx, c.dialect.String()+":")
}

var (
	_ Reader = (*Inspector)(nil)
	_ Reader = (*CachedInspector)(nil)
)
