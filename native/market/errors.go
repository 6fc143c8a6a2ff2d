package market

import "fmt"

// Error is a terminal contract rejection. The codes form a flat, closed
// taxonomy: every precondition failure maps to exactly one code. Downstream
// registry refusals (not the owner, insufficient balance) all surface as the
// single transfer-failed code.
type Error struct {
	code uint32
	name string
}

func (e *Error) Error() string {
	return fmt.Sprintf("market: %s (code %d)", e.name, e.code)
}

// Code returns the stable numeric identifier of the rejection.
func (e *Error) Code() uint32 { return e.code }

// Name returns the symbolic identifier of the rejection.
func (e *Error) Name() string { return e.name }

var (
	// ErrTransferFailed surfaces any refusal from a downstream asset registry.
	ErrTransferFailed = &Error{code: 1, name: "transfer-failed"}
	// ErrNotAllowed rejects asset registries missing from the allowlist.
	ErrNotAllowed = &Error{code: 10, name: "asset-not-allowed"}
	// ErrPriceZero rejects orders without a positive price.
	ErrPriceZero = &Error{code: 11, name: "price-zero"}
	// ErrUnknownListing covers ids that never existed and ids whose listing
	// is no longer active, uniformly.
	ErrUnknownListing = &Error{code: 12, name: "unknown-listing"}
	// ErrUnauthorized rejects callers without the required authority
	// (allowlist writes by non-owners, cancels by non-makers).
	ErrUnauthorized = &Error{code: 13, name: "unauthorised"}
	// ErrExpired rejects orders and fulfilments past the listing expiry.
	ErrExpired = &Error{code: 14, name: "listing-expired"}
	// ErrUnintendedTaker rejects fulfilment of a private sale by anyone but
	// the designated buyer.
	ErrUnintendedTaker = &Error{code: 15, name: "unintended-taker"}
	// ErrAssetMismatch rejects fulfilment through the wrong payment path or
	// with an asset identity that does not match the listing.
	ErrAssetMismatch = &Error{code: 16, name: "asset-mismatch"}
	// ErrOwnListing rejects makers fulfilling their own listings.
	ErrOwnListing = &Error{code: 17, name: "own-listing"}
)
