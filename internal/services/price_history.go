package services

import (
	"time"
)

// PricePoint is one observation in a symbol's price history
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// PriceHistory keeps a bounded ring of recent prices per symbol. Once a
// symbol holds capacity points the oldest point is overwritten.
// Not safe for concurrent use; RiskManager guards it with its own mutex.
type PriceHistory struct {
	capacity int
	rings    map[string]*priceRing
}

type priceRing struct {
	points []PricePoint
	start  int
	size   int
}

// NewPriceHistory creates a price history holding capacity points per symbol.
func NewPriceHistory(capacity int) *PriceHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &PriceHistory{
		capacity: capacity,
		rings:    make(map[string]*priceRing),
	}
}

// Add appends a price, evicting the oldest point when the ring is full.
func (h *PriceHistory) Add(symbol string, ts time.Time, price float64) {
	if price <= 0 {
		return
	}
	r, ok := h.rings[symbol]
	if !ok {
		r = &priceRing{points: make([]PricePoint, h.capacity)}
		h.rings[symbol] = r
	}

	p := PricePoint{Timestamp: ts, Price: price}
	if r.size < h.capacity {
		r.points[(r.start+r.size)%h.capacity] = p
		r.size++
		return
	}
	r.points[r.start] = p
	r.start = (r.start + 1) % h.capacity
}

// Points returns the symbol's history oldest first.
func (h *PriceHistory) Points(symbol string) []PricePoint {
	r, ok := h.rings[symbol]
	if !ok {
		return nil
	}
	out := make([]PricePoint, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.points[(r.start+i)%h.capacity]
	}
	return out
}

// Prices returns the symbol's prices oldest first.
func (h *PriceHistory) Prices(symbol string) []float64 {
	points := h.Points(symbol)
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

// Len reports how many points are held for symbol.
func (h *PriceHistory) Len(symbol string) int {
	if r, ok := h.rings[symbol]; ok {
		return r.size
	}
	return 0
}

// Symbols lists every symbol with history.
func (h *PriceHistory) Symbols() []string {
	out := make([]string, 0, len(h.rings))
	for s := range h.rings {
		out = append(out, s)
	}
	return out
}
