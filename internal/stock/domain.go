// Package stock owns the live on-hand/reserved counters of catalog items and
// applies reserve/consume batches atomically.
package stock

import (
	"errors"
	"math"
	"time"
)

// Operation enumerates ledger batch kinds.
type Operation string

const (
	// OpReserve earmarks stock for a job without deducting it.
	OpReserve Operation = "RESERVE"
	// OpConsume deducts stock from on hand and releases the matching reservation.
	OpConsume Operation = "CONSUME"
	// OpRelease is the compensating operation for a committed reserve.
	OpRelease Operation = "RELEASE"
)

// qtyEpsilon absorbs float noise when comparing quantities.
const qtyEpsilon = 1e-6

// Item is a catalog entry with its live counters.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProductCode string    `json:"product_code"`
	ColorCode   string    `json:"color_code"`
	OnHand      float64   `json:"on_hand"`
	Reserved    float64   `json:"reserved"`
	Unit        string    `json:"unit"`
	Critical    bool      `json:"critical"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Available is derived on every read and never stored.
func (i Item) Available() float64 {
	return math.Max(0, i.OnHand-i.Reserved)
}

// Line requests qty of one item.
type Line struct {
	ItemID string  `json:"item_id" validate:"required"`
	Qty    float64 `json:"qty" validate:"gt=0"`
}

// Batch is the input of a ledger operation.
type Batch struct {
	// Reference ties the batch to its owner, usually a job id.
	Reference string
	// Key makes retries of the same batch safe when an idempotency store is configured.
	Key   string
	Lines []Line
}

// LineResult is the post operation view of one item.
type LineResult struct {
	ItemID            string  `json:"item_id"`
	Name              string  `json:"name"`
	ProductCode       string  `json:"product_code"`
	ColorCode         string  `json:"color_code"`
	Unit              string  `json:"unit"`
	Qty               float64 `json:"qty"`
	OnHand            float64 `json:"on_hand"`
	Reserved          float64 `json:"reserved"`
	Available         float64 `json:"available"`
	UsesReservedStock bool    `json:"uses_reserved_stock"`
	// LowStock is set for critical items whose availability dropped to zero.
	LowStock bool `json:"low_stock"`
}

// BatchResult reports the state of every touched item after a committed batch.
type BatchResult struct {
	Op        Operation    `json:"op"`
	Reference string       `json:"reference"`
	Lines     []LineResult `json:"lines"`
	AppliedAt time.Time    `json:"applied_at"`
}

// Projection is the read-only preview of a line against current counters.
type Projection struct {
	ItemID      string  `json:"item_id"`
	Name        string  `json:"name"`
	ProductCode string  `json:"product_code"`
	ColorCode   string  `json:"color_code"`
	Unit        string  `json:"unit"`
	Qty         float64 `json:"qty"`
	OnHand      float64 `json:"on_hand"`
	Reserved    float64 `json:"reserved"`
	Available   float64 `json:"available"`
	// Reservable is the part of Qty that fits in Available.
	Reservable float64 `json:"reservable"`
	// Shortfall is the part of Qty exceeding Available; it has to be purchased
	// before it can be reserved.
	Shortfall float64 `json:"shortfall"`
	// UsesReservedStock is true when Qty exceeds Available but still fits in
	// OnHand, i.e. consuming it eats into another job's reservation.
	UsesReservedStock bool `json:"uses_reserved_stock"`
	// ExceedsOnHand is true when even a consume would be rejected.
	ExceedsOnHand bool `json:"exceeds_on_hand"`
}

// Movement is the ledger trail of a single applied line.
type Movement struct {
	Op        Operation
	ItemID    string
	Qty       float64
	Reference string
	OnHand    float64
	Reserved  float64
	At        time.Time
}

var (
	// ErrEmptyBatch indicates a batch without lines.
	ErrEmptyBatch = errors.New("stock: batch requires at least one line")
	// ErrInvalidQuantity indicates a non positive quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be greater than zero")
	// ErrItemRequired indicates a line without item id.
	ErrItemRequired = errors.New("stock: item id required")
)

func project(item Item, qty float64) Projection {
	available := item.Available()
	p := Projection{
		ItemID:      item.ID,
		Name:        item.Name,
		ProductCode: item.ProductCode,
		ColorCode:   item.ColorCode,
		Unit:        item.Unit,
		Qty:         qty,
		OnHand:      item.OnHand,
		Reserved:    item.Reserved,
		Available:   available,
		Reservable:  math.Min(qty, available),
	}
	if qty > available+qtyEpsilon {
		p.Shortfall = qty - available
	}
	p.UsesReservedStock = usesReservedStock(item, qty)
	p.ExceedsOnHand = qty > item.OnHand+qtyEpsilon
	return p
}

func usesReservedStock(item Item, qty float64) bool {
	return qty > item.Available()+qtyEpsilon && qty <= item.OnHand+qtyEpsilon
}

func resultFor(item Item, qty float64, usesReserved bool) LineResult {
	available := item.Available()
	return LineResult{
		ItemID:            item.ID,
		Name:              item.Name,
		ProductCode:       item.ProductCode,
		ColorCode:         item.ColorCode,
		Unit:              item.Unit,
		Qty:               qty,
		OnHand:            item.OnHand,
		Reserved:          item.Reserved,
		Available:         available,
		UsesReservedStock: usesReserved,
		LowStock:          item.Critical && available <= qtyEpsilon,
	}
}

func clampZero(v float64) float64 {
	if v < qtyEpsilon {
		return 0
	}
	return v
}
