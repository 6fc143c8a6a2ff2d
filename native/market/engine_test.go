package market

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"nftmarket/core/events"
	"nftmarket/core/types"
)

type mockState struct {
	allowed       map[[20]byte]bool
	listings      map[uint64]*Listing
	seq           uint64
	nftOwners     map[string][20]byte
	balances      map[[20]byte]*big.Int
	tokenBalances map[[20]byte]map[[20]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		allowed:       make(map[[20]byte]bool),
		listings:      make(map[uint64]*Listing),
		nftOwners:     make(map[string][20]byte),
		balances:      make(map[[20]byte]*big.Int),
		tokenBalances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

func nftKey(collection [20]byte, tokenID uint64) string {
	return fmt.Sprintf("%x/%d", collection, tokenID)
}

func (m *mockState) MarketIsAllowed(asset [20]byte) (bool, error) {
	return m.allowed[asset], nil
}

func (m *mockState) MarketSetAllowed(asset [20]byte, allowed bool) error {
	m.allowed[asset] = allowed
	return nil
}

func (m *mockState) MarketNextListingID() (uint64, error) {
	id := m.seq
	m.seq++
	return id, nil
}

func (m *mockState) MarketListingPut(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	m.listings[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) MarketListingGet(id uint64) (*Listing, bool) {
	stored, ok := m.listings[id]
	if !ok || stored.Status != ListingActive {
		return nil, false
	}
	return stored.Clone(), true
}

func (m *mockState) mintNFT(collection [20]byte, tokenID uint64, owner [20]byte) {
	m.nftOwners[nftKey(collection, tokenID)] = owner
}

func (m *mockState) NFTTransfer(collection [20]byte, tokenID uint64, from, to [20]byte) error {
	key := nftKey(collection, tokenID)
	owner, ok := m.nftOwners[key]
	if !ok {
		return fmt.Errorf("token not minted")
	}
	if owner != from {
		return fmt.Errorf("sender does not own token")
	}
	m.nftOwners[key] = to
	return nil
}

func (m *mockState) balanceOf(addr [20]byte) *big.Int {
	if balance, ok := m.balances[addr]; ok {
		return balance
	}
	return big.NewInt(0)
}

func (m *mockState) credit(addr [20]byte, amount int64) {
	m.balances[addr] = new(big.Int).Add(m.balanceOf(addr), big.NewInt(amount))
}

func (m *mockState) Transfer(from, to [20]byte, amount *big.Int) error {
	if m.balanceOf(from).Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from] = new(big.Int).Sub(m.balanceOf(from), amount)
	m.balances[to] = new(big.Int).Add(m.balanceOf(to), amount)
	return nil
}

func (m *mockState) tokenBalanceOf(token, addr [20]byte) *big.Int {
	if balances, ok := m.tokenBalances[token]; ok {
		if balance, ok := balances[addr]; ok {
			return balance
		}
	}
	return big.NewInt(0)
}

func (m *mockState) mintToken(token, addr [20]byte, amount int64) {
	if m.tokenBalances[token] == nil {
		m.tokenBalances[token] = make(map[[20]byte]*big.Int)
	}
	m.tokenBalances[token][addr] = new(big.Int).Add(m.tokenBalanceOf(token, addr), big.NewInt(amount))
}

func (m *mockState) TokenTransfer(token [20]byte, from, to [20]byte, amount *big.Int) error {
	if m.tokenBalanceOf(token, from).Cmp(amount) < 0 {
		return fmt.Errorf("insufficient token balance")
	}
	if m.tokenBalances[token] == nil {
		m.tokenBalances[token] = make(map[[20]byte]*big.Int)
	}
	m.tokenBalances[token][from] = new(big.Int).Sub(m.tokenBalanceOf(token, from), amount)
	m.tokenBalances[token][to] = new(big.Int).Add(m.tokenBalanceOf(token, to), amount)
	return nil
}

type capturingEmitter struct {
	events []*types.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	c.events = append(c.events, carrier.Event())
}

func (c *capturingEmitter) typesSeen() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Type)
	}
	return out
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	owner      = newTestAddress(0x01)
	vault      = newTestAddress(0xee)
	maker      = newTestAddress(0x02)
	taker      = newTestAddress(0x03)
	stranger   = newTestAddress(0x04)
	collection = newTestAddress(0xaa)
	payToken   = newTestAddress(0xbb)
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *capturingEmitter) {
	t.Helper()
	state := newMockState()
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetOwner(owner)
	engine.SetVault(vault)
	return engine, state, emitter
}

func nativeOrder(price int64, expiry uint64) Order {
	return Order{TokenID: 7, Expiry: expiry, Price: big.NewInt(price)}
}

func mustList(t *testing.T, engine *Engine, state *mockState, height uint64, order Order) uint64 {
	t.Helper()
	if err := state.MarketSetAllowed(collection, true); err != nil {
		t.Fatalf("allow collection: %v", err)
	}
	if order.PayToken != ([20]byte{}) {
		if err := state.MarketSetAllowed(order.PayToken, true); err != nil {
			t.Fatalf("allow token: %v", err)
		}
	}
	state.mintNFT(collection, order.TokenID, maker)
	id, err := engine.List(maker, height, collection, order)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return id
}

func TestSetAllowedOwnerOnly(t *testing.T) {
	engine, state, emitter := newTestEngine(t)

	if err := engine.SetAllowed(stranger, collection, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events after rejection, got %v", emitter.typesSeen())
	}

	if err := engine.SetAllowed(owner, collection, true); err != nil {
		t.Fatalf("set allowed: %v", err)
	}
	allowed, _ := state.MarketIsAllowed(collection)
	if !allowed {
		t.Fatalf("expected collection allowlisted")
	}
	if len(emitter.events) != 1 || emitter.events[0].Type != EventTypeAllowlistUpdated {
		t.Fatalf("unexpected events: %v", emitter.typesSeen())
	}
}

func TestListEscrowsAssetAndAssignsSequentialIDs(t *testing.T) {
	engine, state, emitter := newTestEngine(t)

	id := mustList(t, engine, state, 5, nativeOrder(10, 100))
	if id != 0 {
		t.Fatalf("expected first listing id 0, got %d", id)
	}
	if custodian := state.nftOwners[nftKey(collection, 7)]; custodian != vault {
		t.Fatalf("expected vault custody, owner is %x", custodian)
	}

	listing, ok := engine.GetListing(id)
	if !ok {
		t.Fatalf("expected active listing")
	}
	if listing.Owner != maker || listing.TokenID != 7 || listing.Price.Int64() != 10 ||
		listing.Expiry != 100 || listing.CreatedAt != 5 || listing.Status != ListingActive {
		t.Fatalf("unexpected listing: %+v", listing)
	}

	got := emitter.typesSeen()
	want := []string{EventTypeAssetTransfer, EventTypeListed}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected events: %v", got)
	}

	state.mintNFT(collection, 8, maker)
	second, err := engine.List(maker, 5, collection, Order{TokenID: 8, Expiry: 100, Price: big.NewInt(3)})
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if second != 1 {
		t.Fatalf("expected second listing id 1, got %d", second)
	}
}

func TestListRejectsUnlistedCollection(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	state.mintNFT(collection, 7, maker)

	if _, err := engine.List(maker, 0, collection, nativeOrder(10, 100)); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %v", emitter.typesSeen())
	}
}

func TestListAllowlistCheckedBeforeExpiry(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.mintNFT(collection, 7, maker)

	// Unlisted collection and an already-past expiry: the allowlist rejection
	// wins.
	if _, err := engine.List(maker, 50, collection, nativeOrder(10, 1)); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}

	// Same for an unlisted payment token on an expired order.
	state.MarketSetAllowed(collection, true)
	order := nativeOrder(10, 1)
	order.PayToken = payToken
	if _, err := engine.List(maker, 50, collection, order); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed for pay token, got %v", err)
	}
}

func TestListRejectsUnlistedPayToken(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.MarketSetAllowed(collection, true)
	state.mintNFT(collection, 7, maker)

	order := nativeOrder(10, 100)
	order.PayToken = payToken
	if _, err := engine.List(maker, 0, collection, order); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestListRejectsZeroPrice(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.MarketSetAllowed(collection, true)
	state.mintNFT(collection, 7, maker)

	if _, err := engine.List(maker, 0, collection, nativeOrder(0, 100)); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected ErrPriceZero, got %v", err)
	}
}

func TestListRejectsExpiredOrder(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.MarketSetAllowed(collection, true)
	state.mintNFT(collection, 7, maker)

	if _, err := engine.List(maker, 50, collection, nativeOrder(10, 49)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	// Expiry equal to the current height is still acceptable.
	if _, err := engine.List(maker, 50, collection, nativeOrder(10, 50)); err != nil {
		t.Fatalf("list at boundary: %v", err)
	}
}

func TestListRejectsUnownedAsset(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	state.MarketSetAllowed(collection, true)
	state.mintNFT(collection, 7, stranger)

	if _, err := engine.List(maker, 0, collection, nativeOrder(10, 100)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %v", emitter.typesSeen())
	}
}

func TestCancelReturnsCustodyToMaker(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	id := mustList(t, engine, state, 0, nativeOrder(10, 100))
	emitter.events = nil

	if err := engine.Cancel(maker, id, collection); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if custodian := state.nftOwners[nftKey(collection, 7)]; custodian != maker {
		t.Fatalf("expected custody back with maker, owner is %x", custodian)
	}
	if _, ok := engine.GetListing(id); ok {
		t.Fatalf("expected no active listing after cancel")
	}
	got := emitter.typesSeen()
	if len(got) != 2 || got[0] != EventTypeAssetTransfer || got[1] != EventTypeCancelled {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestCancelRejections(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	id := mustList(t, engine, state, 0, nativeOrder(10, 100))
	emitter.events = nil

	if err := engine.Cancel(maker, id+1, collection); !errors.Is(err, ErrUnknownListing) {
		t.Fatalf("unknown id: expected ErrUnknownListing, got %v", err)
	}
	if err := engine.Cancel(maker, id, payToken); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("wrong collection: expected ErrAssetMismatch, got %v", err)
	}
	if err := engine.Cancel(stranger, id, collection); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-maker: expected ErrUnauthorized, got %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events after rejections, got %v", emitter.typesSeen())
	}

	listing, ok := engine.GetListing(id)
	if !ok || listing.Status != ListingActive {
		t.Fatalf("listing should remain active after failed cancels")
	}
}

func TestFulfilNativeSettles(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	id := mustList(t, engine, state, 0, nativeOrder(10, 100))
	state.credit(taker, 25)
	emitter.events = nil

	got, err := engine.FulfilNative(taker, 100, id, collection)
	if err != nil {
		t.Fatalf("fulfil: %v", err)
	}
	if got != id {
		t.Fatalf("expected id %d, got %d", id, got)
	}
	if balance := state.balanceOf(taker); balance.Int64() != 15 {
		t.Fatalf("taker balance = %v, want 15", balance)
	}
	if balance := state.balanceOf(maker); balance.Int64() != 10 {
		t.Fatalf("maker balance = %v, want 10", balance)
	}
	if custodian := state.nftOwners[nftKey(collection, 7)]; custodian != taker {
		t.Fatalf("expected taker custody, owner is %x", custodian)
	}
	if _, ok := engine.GetListing(id); ok {
		t.Fatalf("expected no active listing after fulfilment")
	}
	want := []string{EventTypePaymentTransfer, EventTypeAssetTransfer, EventTypeFulfilled}
	gotTypes := emitter.typesSeen()
	if len(gotTypes) != len(want) {
		t.Fatalf("unexpected events: %v", gotTypes)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, gotTypes[i], want[i])
		}
	}
}

func TestFulfilTokenSettles(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	order := nativeOrder(10, 100)
	order.PayToken = payToken
	id := mustList(t, engine, state, 0, order)
	state.mintToken(payToken, taker, 25)

	if _, err := engine.FulfilToken(taker, 100, id, collection, payToken); err != nil {
		t.Fatalf("fulfil: %v", err)
	}
	if balance := state.tokenBalanceOf(payToken, taker); balance.Int64() != 15 {
		t.Fatalf("taker token balance = %v, want 15", balance)
	}
	if balance := state.tokenBalanceOf(payToken, maker); balance.Int64() != 10 {
		t.Fatalf("maker token balance = %v, want 10", balance)
	}
	if custodian := state.nftOwners[nftKey(collection, 7)]; custodian != taker {
		t.Fatalf("expected taker custody, owner is %x", custodian)
	}
}

func TestFulfilExpiryBoundary(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := mustList(t, engine, state, 0, nativeOrder(10, 100))
	state.credit(taker, 25)

	if _, err := engine.FulfilNative(taker, 101, id, collection); !errors.Is(err, ErrExpired) {
		t.Fatalf("past expiry: expected ErrExpired, got %v", err)
	}
	if _, err := engine.FulfilNative(taker, 100, id, collection); err != nil {
		t.Fatalf("at expiry: %v", err)
	}
}

func TestFulfilRejectsOwnListing(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := mustList(t, engine, state, 0, nativeOrder(10, 100))
	state.credit(maker, 25)

	if _, err := engine.FulfilNative(maker, 0, id, collection); !errors.Is(err, ErrOwnListing) {
		t.Fatalf("expected ErrOwnListing, got %v", err)
	}
}

func TestFulfilUnknownListing(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.FulfilNative(taker, 0, 42, collection); !errors.Is(err, ErrUnknownListing) {
		t.Fatalf("expected ErrUnknownListing, got %v", err)
	}
	if _, err := engine.FulfilToken(taker, 0, 42, collection, payToken); !errors.Is(err, ErrUnknownListing) {
		t.Fatalf("expected ErrUnknownListing, got %v", err)
	}
}

func TestFulfilAssetMismatch(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	nativeID := mustList(t, engine, state, 0, nativeOrder(10, 100))

	tokenOrder := Order{TokenID: 8, Expiry: 100, Price: big.NewInt(10), PayToken: payToken}
	state.MarketSetAllowed(payToken, true)
	state.mintNFT(collection, 8, maker)
	tokenID, err := engine.List(maker, 0, collection, tokenOrder)
	if err != nil {
		t.Fatalf("list token order: %v", err)
	}

	state.credit(taker, 100)
	state.mintToken(payToken, taker, 100)

	// Wrong collection identity.
	if _, err := engine.FulfilNative(taker, 0, nativeID, payToken); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("wrong collection: expected ErrAssetMismatch, got %v", err)
	}
	// Token path against a native listing.
	if _, err := engine.FulfilToken(taker, 0, nativeID, collection, payToken); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("token path on native listing: expected ErrAssetMismatch, got %v", err)
	}
	// Native path against a token listing.
	if _, err := engine.FulfilNative(taker, 0, tokenID, collection); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("native path on token listing: expected ErrAssetMismatch, got %v", err)
	}
	// Wrong payment token identity.
	if _, err := engine.FulfilToken(taker, 0, tokenID, collection, newTestAddress(0xcc)); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("wrong token: expected ErrAssetMismatch, got %v", err)
	}
}

func TestFulfilTokenRequiresAllowlistedToken(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	order := nativeOrder(10, 100)
	order.PayToken = payToken
	id := mustList(t, engine, state, 0, order)
	state.mintToken(payToken, taker, 100)

	// Delisting the token between listing and fulfilment blocks settlement.
	state.MarketSetAllowed(payToken, false)
	if _, err := engine.FulfilToken(taker, 0, id, collection, payToken); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestFulfilInsufficientBalance(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	nativeID := mustList(t, engine, state, 0, nativeOrder(10, 100))

	order := Order{TokenID: 8, Expiry: 100, Price: big.NewInt(10), PayToken: payToken}
	state.MarketSetAllowed(payToken, true)
	state.mintNFT(collection, 8, maker)
	tokenID, err := engine.List(maker, 0, collection, order)
	if err != nil {
		t.Fatalf("list token order: %v", err)
	}

	state.credit(taker, 5)
	state.mintToken(payToken, taker, 5)
	emitter.events = nil

	if _, err := engine.FulfilNative(taker, 0, nativeID, collection); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("native: expected ErrTransferFailed, got %v", err)
	}
	if _, err := engine.FulfilToken(taker, 0, tokenID, collection, payToken); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("token: expected ErrTransferFailed, got %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %v", emitter.typesSeen())
	}
}

func TestFulfilHonoursIntendedTaker(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	order := nativeOrder(10, 100)
	order.Buyer = taker
	id := mustList(t, engine, state, 0, order)
	state.credit(taker, 25)
	state.credit(stranger, 25)

	if _, err := engine.FulfilNative(stranger, 0, id, collection); !errors.Is(err, ErrUnintendedTaker) {
		t.Fatalf("stranger: expected ErrUnintendedTaker, got %v", err)
	}
	if _, err := engine.FulfilNative(taker, 0, id, collection); err != nil {
		t.Fatalf("designated buyer: %v", err)
	}
}

func TestTerminalListingsBehaveAsUnknown(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	id := mustList(t, engine, state, 0, nativeOrder(10, 100))
	state.credit(taker, 25)

	if _, err := engine.FulfilNative(taker, 0, id, collection); err != nil {
		t.Fatalf("fulfil: %v", err)
	}
	if err := engine.Cancel(maker, id, collection); !errors.Is(err, ErrUnknownListing) {
		t.Fatalf("cancel after fulfil: expected ErrUnknownListing, got %v", err)
	}
	if _, err := engine.FulfilNative(taker, 0, id, collection); !errors.Is(err, ErrUnknownListing) {
		t.Fatalf("refulfil: expected ErrUnknownListing, got %v", err)
	}
}

func TestPausedModuleBlocksAllOperations(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	id := mustList(t, engine, state, 0, nativeOrder(10, 100))
	emitter.events = nil
	engine.SetPauses(pauseMap{moduleName: true})

	if err := engine.SetAllowed(owner, collection, true); err == nil {
		t.Fatalf("expected pause rejection for SetAllowed")
	}
	if _, err := engine.List(maker, 0, collection, nativeOrder(10, 100)); err == nil {
		t.Fatalf("expected pause rejection for List")
	}
	if err := engine.Cancel(maker, id, collection); err == nil {
		t.Fatalf("expected pause rejection for Cancel")
	}
	if _, err := engine.FulfilNative(taker, 0, id, collection); err == nil {
		t.Fatalf("expected pause rejection for FulfilNative")
	}
	if _, err := engine.FulfilToken(taker, 0, id, collection, payToken); err == nil {
		t.Fatalf("expected pause rejection for FulfilToken")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events while paused, got %v", emitter.typesSeen())
	}
}
