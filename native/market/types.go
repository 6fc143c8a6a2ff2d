package market

import (
	"fmt"
	"math/big"
)

// ListingStatus represents the lifecycle states of a listing. A listing is
// created active and transitions exactly once into a terminal state; there is
// no path out of a terminal state.
type ListingStatus uint8

const (
	ListingActive ListingStatus = iota
	ListingCancelled
	ListingFulfilled
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingCancelled, ListingFulfilled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s ListingStatus) Terminal() bool {
	return s == ListingCancelled || s == ListingFulfilled
}

// Listing captures one escrowed offer: a single asset held in contract
// custody, exchangeable for a fixed price until the expiry height. The zero
// address in PayToken selects the native currency; the zero address in Buyer
// leaves the sale open to any taker except the maker. Rows are never deleted:
// terminal listings stay in state as inert history and are simply excluded
// from active lookups.
type Listing struct {
	ID         uint64
	Collection [20]byte
	TokenID    uint64
	Owner      [20]byte
	Price      *big.Int
	PayToken   [20]byte
	Expiry     uint64
	Buyer      [20]byte
	CreatedAt  uint64
	Status     ListingStatus
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates the supplied listing and returns a cloned
// instance with a non-nil price field. The original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("listing price must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid listing status: %d", clone.Status)
	}
	return clone, nil
}

// Order describes the maker's terms when creating a listing. PayToken and
// Buyer follow the same zero-address conventions as Listing.
type Order struct {
	TokenID  uint64
	Expiry   uint64
	Price    *big.Int
	Buyer    [20]byte
	PayToken [20]byte
}
