// Package book keeps an aggregated price-level view of one symbol's order
// book. Each side is a B-tree ordered by price priority, so the best level is
// the tree minimum on both sides.
package book

import (
	"fmt"
	"math"

	"github.com/google/btree"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const degree = 8

func lessBid(a, b domain.PriceLevel) bool { return a.Price > b.Price }
func lessAsk(a, b domain.PriceLevel) bool { return a.Price < b.Price }

// Book is a per-symbol price-level book. It is not safe for concurrent use;
// the owning collector serializes access.
type Book struct {
	symbol string
	bids   *btree.BTreeG[domain.PriceLevel]
	asks   *btree.BTreeG[domain.PriceLevel]
}

// New returns an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   btree.NewG(degree, lessBid),
		asks:   btree.NewG(degree, lessAsk),
	}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string {
	return b.symbol
}

func (b *Book) side(side domain.BookSide) (*btree.BTreeG[domain.PriceLevel], error) {
	switch side {
	case domain.BookSideBid:
		return b.bids, nil
	case domain.BookSideAsk:
		return b.asks, nil
	default:
		return nil, fmt.Errorf("book: %w: side %q", domain.ErrInvalidLevel, side)
	}
}

// Upsert sets the quantity resting at price. A quantity of zero removes the
// level. Crossing the opposite side is allowed.
func (b *Book) Upsert(side domain.BookSide, price, quantity float64) error {
	tree, err := b.side(side)
	if err != nil {
		return err
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("book: %w: price %v", domain.ErrInvalidLevel, price)
	}
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity < 0 {
		return fmt.Errorf("book: %w: quantity %v", domain.ErrInvalidLevel, quantity)
	}

	level := domain.PriceLevel{Price: price, Quantity: quantity}
	if quantity == 0 {
		tree.Delete(level)
		return nil
	}
	tree.ReplaceOrInsert(level)
	return nil
}

// Apply runs Upsert for every update and stops at the first invalid one.
func (b *Book) Apply(updates []domain.LevelUpdate) error {
	for _, u := range updates {
		if err := b.Upsert(u.Side, u.Price, u.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Best returns the highest bid or the lowest ask.
func (b *Book) Best(side domain.BookSide) (domain.PriceLevel, bool) {
	tree, err := b.side(side)
	if err != nil {
		return domain.PriceLevel{}, false
	}
	return tree.Min()
}

// Depth returns up to n levels of side in price priority.
func (b *Book) Depth(side domain.BookSide, n int) []domain.PriceLevel {
	tree, err := b.side(side)
	if err != nil || n <= 0 {
		return nil
	}
	if n > tree.Len() {
		n = tree.Len()
	}
	out := make([]domain.PriceLevel, 0, n)
	tree.Ascend(func(l domain.PriceLevel) bool {
		out = append(out, l)
		return len(out) < n
	})
	return out
}

// MidPrice averages the best bid and best ask. It reports false when either
// side is empty.
func (b *Book) MidPrice() (float64, bool) {
	bid, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	ask, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread is best ask minus best bid. Negative when the book is crossed.
func (b *Book) Spread() (float64, bool) {
	bid, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	ask, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Crossed reports whether the best bid is at or above the best ask.
func (b *Book) Crossed() bool {
	s, ok := b.Spread()
	return ok && s <= 0
}

// Len returns the number of levels on side.
func (b *Book) Len(side domain.BookSide) int {
	tree, err := b.side(side)
	if err != nil {
		return 0
	}
	return tree.Len()
}

// Clear drops every level on both sides.
func (b *Book) Clear() {
	b.bids.Clear(false)
	b.asks.Clear(false)
}
