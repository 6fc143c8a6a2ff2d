package market

import (
	"errors"
	"fmt"
	"math/big"

	"nftmarket/core/events"
	nativecommon "nftmarket/native/common"
)

const moduleName = "market"

var errNilState = errors.New("market engine: state not configured")

// engineState captures the state persistence and asset registry hooks the
// engine relies on. The node's state manager provides the production
// implementation; tests provide mocks.
type engineState interface {
	MarketIsAllowed(asset [20]byte) (bool, error)
	MarketSetAllowed(asset [20]byte, allowed bool) error
	MarketNextListingID() (uint64, error)
	MarketListingPut(l *Listing) error
	MarketListingGet(id uint64) (*Listing, bool)

	NFTTransfer(collection [20]byte, tokenID uint64, from, to [20]byte) error
	Transfer(from, to [20]byte, amount *big.Int) error
	TokenTransfer(token [20]byte, from, to [20]byte, amount *big.Int) error
}

// Engine orchestrates the marketplace lifecycle: maker lists an escrowed
// asset, maker cancels, or a taker pays and receives custody. Every mutation
// is expressed against the engineState interface so the node can wrap calls
// in an atomic state transition.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	owner   [20]byte
	vault   [20]byte
}

// NewEngine constructs an Engine with a no-op emitter. Callers must supply
// state via SetState before invoking operations.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState wires the persistence backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the sink that receives marketplace events. Passing
// nil restores the no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetOwner configures the contract owner allowed to mutate the allowlist.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetVault configures the custody address holding escrowed assets.
func (e *Engine) SetVault(vault [20]byte) { e.vault = vault }

func (e *Engine) emit(evt marketEvent) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// SetAllowed flips the allowlist flag for an asset registry. Only the
// contract owner may call it.
func (e *Engine) SetAllowed(caller, asset [20]byte, allowed bool) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if err := e.state.MarketSetAllowed(asset, allowed); err != nil {
		return fmt.Errorf("set allowed: %w", err)
	}
	e.emit(marketEvent{evt: NewAllowlistUpdatedEvent(asset, allowed)})
	return nil
}

// List escrows the caller's asset and records a new active listing. The
// returned id identifies the listing for later cancellation or fulfilment.
func (e *Engine) List(caller [20]byte, height uint64, collection [20]byte, order Order) (uint64, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if e.state == nil {
		return 0, errNilState
	}
	allowed, err := e.state.MarketIsAllowed(collection)
	if err != nil {
		return 0, fmt.Errorf("allowlist lookup: %w", err)
	}
	if !allowed {
		return 0, ErrNotAllowed
	}
	if order.PayToken != ([20]byte{}) {
		allowed, err = e.state.MarketIsAllowed(order.PayToken)
		if err != nil {
			return 0, fmt.Errorf("allowlist lookup: %w", err)
		}
		if !allowed {
			return 0, ErrNotAllowed
		}
	}
	if order.Price == nil || order.Price.Sign() <= 0 {
		return 0, ErrPriceZero
	}
	if order.Expiry < height {
		return 0, ErrExpired
	}
	if err := e.state.NFTTransfer(collection, order.TokenID, caller, e.vault); err != nil {
		return 0, ErrTransferFailed
	}
	id, err := e.state.MarketNextListingID()
	if err != nil {
		return 0, fmt.Errorf("allocate listing id: %w", err)
	}
	listing := &Listing{
		ID:         id,
		Collection: collection,
		TokenID:    order.TokenID,
		Owner:      caller,
		Price:      order.Price,
		PayToken:   order.PayToken,
		Expiry:     order.Expiry,
		Buyer:      order.Buyer,
		CreatedAt:  height,
		Status:     ListingActive,
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return 0, fmt.Errorf("store listing: %w", err)
	}
	e.emit(marketEvent{evt: NewAssetTransferEvent(collection, order.TokenID, caller, e.vault)})
	e.emit(marketEvent{evt: NewListedEvent(listing)})
	return id, nil
}

// Cancel returns an escrowed asset to its maker and retires the listing. Only
// the maker may cancel, and the asset identity must match the listing.
func (e *Engine) Cancel(caller [20]byte, id uint64, collection [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	listing, ok := e.state.MarketListingGet(id)
	if !ok {
		return ErrUnknownListing
	}
	if listing.Collection != collection {
		return ErrAssetMismatch
	}
	if caller != listing.Owner {
		return ErrUnauthorized
	}
	if err := e.state.NFTTransfer(collection, listing.TokenID, e.vault, listing.Owner); err != nil {
		return ErrTransferFailed
	}
	listing.Status = ListingCancelled
	if err := e.state.MarketListingPut(listing); err != nil {
		return fmt.Errorf("store listing: %w", err)
	}
	e.emit(marketEvent{evt: NewAssetTransferEvent(collection, listing.TokenID, e.vault, listing.Owner)})
	e.emit(marketEvent{evt: NewCancelledEvent(listing)})
	return nil
}

// FulfilNative settles a native-currency listing: the caller pays the maker
// the listed price and receives the escrowed asset.
func (e *Engine) FulfilNative(caller [20]byte, height, id uint64, collection [20]byte) (uint64, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if e.state == nil {
		return 0, errNilState
	}
	listing, ok := e.state.MarketListingGet(id)
	if !ok {
		return 0, ErrUnknownListing
	}
	if listing.Collection != collection {
		return 0, ErrAssetMismatch
	}
	if listing.PayToken != ([20]byte{}) {
		return 0, ErrAssetMismatch
	}
	if err := e.checkTaker(listing, caller, height); err != nil {
		return 0, err
	}
	if err := e.state.Transfer(caller, listing.Owner, listing.Price); err != nil {
		return 0, ErrTransferFailed
	}
	return id, e.settle(listing, caller)
}

// FulfilToken settles a token-priced listing: the caller pays the maker in
// the listing's payment token and receives the escrowed asset.
func (e *Engine) FulfilToken(caller [20]byte, height, id uint64, collection, token [20]byte) (uint64, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if e.state == nil {
		return 0, errNilState
	}
	listing, ok := e.state.MarketListingGet(id)
	if !ok {
		return 0, ErrUnknownListing
	}
	if listing.Collection != collection {
		return 0, ErrAssetMismatch
	}
	if listing.PayToken == ([20]byte{}) || listing.PayToken != token {
		return 0, ErrAssetMismatch
	}
	allowed, err := e.state.MarketIsAllowed(token)
	if err != nil {
		return 0, fmt.Errorf("allowlist lookup: %w", err)
	}
	if !allowed {
		return 0, ErrNotAllowed
	}
	if err := e.checkTaker(listing, caller, height); err != nil {
		return 0, err
	}
	if err := e.state.TokenTransfer(token, caller, listing.Owner, listing.Price); err != nil {
		return 0, ErrTransferFailed
	}
	return id, e.settle(listing, caller)
}

// GetListing returns a copy of the active listing for the supplied id.
func (e *Engine) GetListing(id uint64) (*Listing, bool) {
	if e.state == nil {
		return nil, false
	}
	listing, ok := e.state.MarketListingGet(id)
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

// checkTaker enforces the taker-side preconditions shared by both fulfilment
// paths. Expiry is inclusive: a listing is fulfillable at its expiry height
// and rejected one height later.
func (e *Engine) checkTaker(listing *Listing, caller [20]byte, height uint64) error {
	if height > listing.Expiry {
		return ErrExpired
	}
	if caller == listing.Owner {
		return ErrOwnListing
	}
	if listing.Buyer != ([20]byte{}) && caller != listing.Buyer {
		return ErrUnintendedTaker
	}
	return nil
}

// settle releases the escrowed asset to the taker, retires the listing and
// emits the fulfilment events. Payment has already cleared.
func (e *Engine) settle(listing *Listing, taker [20]byte) error {
	if err := e.state.NFTTransfer(listing.Collection, listing.TokenID, e.vault, taker); err != nil {
		return ErrTransferFailed
	}
	listing.Status = ListingFulfilled
	if err := e.state.MarketListingPut(listing); err != nil {
		return fmt.Errorf("store listing: %w", err)
	}
	e.emit(marketEvent{evt: NewPaymentEvent(listing.PayToken, listing.Price.String(), taker, listing.Owner)})
	e.emit(marketEvent{evt: NewAssetTransferEvent(listing.Collection, listing.TokenID, e.vault, taker)})
	e.emit(marketEvent{evt: NewFulfilledEvent(listing, taker)})
	return nil
}
