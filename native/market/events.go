package market

import (
	"encoding/hex"
	"strconv"

	"nftmarket/core/types"
)

// marketEvent adapts a typed payload to the events.Emitter contract used by
// the node. Consumers recover the payload through the Event accessor.
type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

const (
	EventTypeListed           = "market.listed"
	EventTypeCancelled        = "market.cancelled"
	EventTypeFulfilled        = "market.fulfilled"
	EventTypeAllowlistUpdated = "market.allowlist.updated"
	EventTypeAssetTransfer    = "market.asset.transferred"
	EventTypePaymentTransfer  = "market.payment.transferred"
)

// NewListedEvent returns the canonical payload for a newly created listing.
func NewListedEvent(l *Listing) *types.Event { return newListingEvent(EventTypeListed, l) }

// NewCancelledEvent returns the payload emitted when the maker cancels a
// listing and custody returns to them.
func NewCancelledEvent(l *Listing) *types.Event { return newListingEvent(EventTypeCancelled, l) }

// NewFulfilledEvent returns the payload emitted when a taker fulfils a
// listing.
func NewFulfilledEvent(l *Listing, taker [20]byte) *types.Event {
	evt := newListingEvent(EventTypeFulfilled, l)
	evt.Attributes["taker"] = hex.EncodeToString(taker[:])
	return evt
}

// NewAllowlistUpdatedEvent returns the payload emitted when the contract
// owner flips an asset registry's allowlist flag.
func NewAllowlistUpdatedEvent(asset [20]byte, allowed bool) *types.Event {
	return &types.Event{
		Type: EventTypeAllowlistUpdated,
		Attributes: map[string]string{
			"asset":   hex.EncodeToString(asset[:]),
			"allowed": strconv.FormatBool(allowed),
		},
	}
}

// NewAssetTransferEvent returns the custody notification for a non-fungible
// asset moving between principals (maker to vault on list, vault to maker on
// cancel, vault to taker on fulfil).
func NewAssetTransferEvent(collection [20]byte, tokenID uint64, from, to [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAssetTransfer,
		Attributes: map[string]string{
			"collection": hex.EncodeToString(collection[:]),
			"tokenId":    strconv.FormatUint(tokenID, 10),
			"from":       hex.EncodeToString(from[:]),
			"to":         hex.EncodeToString(to[:]),
		},
	}
}

// NewPaymentEvent returns the payment notification emitted on fulfilment. A
// zero token address denotes the native currency.
func NewPaymentEvent(token [20]byte, amount string, from, to [20]byte) *types.Event {
	attrs := map[string]string{
		"amount": amount,
		"from":   hex.EncodeToString(from[:]),
		"to":     hex.EncodeToString(to[:]),
	}
	if token != ([20]byte{}) {
		attrs["token"] = hex.EncodeToString(token[:])
	} else {
		attrs["token"] = "native"
	}
	return &types.Event{Type: EventTypePaymentTransfer, Attributes: attrs}
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["collection"] = hex.EncodeToString(sanitized.Collection[:])
	attrs["tokenId"] = strconv.FormatUint(sanitized.TokenID, 10)
	attrs["owner"] = hex.EncodeToString(sanitized.Owner[:])
	attrs["price"] = sanitized.Price.String()
	attrs["expiry"] = strconv.FormatUint(sanitized.Expiry, 10)
	attrs["createdAt"] = strconv.FormatUint(sanitized.CreatedAt, 10)
	if sanitized.PayToken != ([20]byte{}) {
		attrs["payToken"] = hex.EncodeToString(sanitized.PayToken[:])
	}
	if sanitized.Buyer != ([20]byte{}) {
		attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
