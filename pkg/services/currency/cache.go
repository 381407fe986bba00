package currency

import (
	"context"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
)

// Cache memoises quotes per window for the lifetime of a single run.
// It is not safe for concurrent use.
type Cache struct {
	converter Converter
	quotes    map[string]domain.RateQuote
}

func NewCache(converter Converter) *Cache {
	return &Cache{
		converter: converter,
		quotes:    make(map[string]domain.RateQuote),
	}
}

func (c *Cache) Rate(ctx context.Context, window domain.DateWindow) domain.RateQuote {
	key := window.Key()
	if q, ok := c.quotes[key]; ok {
		return q
	}
	q := c.converter.Rate(ctx, window)
	c.quotes[key] = q
	return q
}
