package core

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"nftmarket/core/events"
	"nftmarket/core/state"
	"nftmarket/core/types"
	"nftmarket/native/market"
	"nftmarket/storage"
	"nftmarket/storage/trie"
)

var (
	stateRootKey = []byte("nftmarket/state-root")
	heightKey    = []byte("nftmarket/height")
)

// VaultAddress returns the custody address that holds escrowed assets. It is
// derived deterministically so every node agrees on it without configuration.
func VaultAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], crypto.Keccak256([]byte("nftmarket/vault"))[12:])
	return addr
}

// GenesisAccount seeds a native balance at first boot.
type GenesisAccount struct {
	Address [20]byte
	Balance *big.Int
}

// NodeConfig carries the parameters needed to boot a node.
type NodeConfig struct {
	Owner   [20]byte
	Genesis []GenesisAccount
	Paused  []string
}

type pauseSet map[string]struct{}

func (p pauseSet) IsPaused(module string) bool {
	_, ok := p[module]
	return ok
}

// Node owns the state trie and executes marketplace operations as atomic
// state transitions: each entry point either commits a new root or rolls the
// trie back to the last committed root. Events reach callers only for
// transitions that committed, returned by the mutation itself so concurrent
// transitions cannot mix up receipts.
type Node struct {
	mu sync.Mutex

	db     storage.Database
	trie   *trie.Trie
	state  *state.Manager
	engine *market.Engine

	height   uint64
	lastRoot common.Hash

	pending []*types.Event
}

// NewNode opens (or initialises) the state rooted in the database and wires
// the marketplace engine. Genesis allocations are applied once, on the first
// boot against an empty database.
func NewNode(db storage.Database, cfg NodeConfig) (*Node, error) {
	var root []byte
	hasRoot, err := db.Has(stateRootKey)
	if err != nil {
		return nil, fmt.Errorf("check state root: %w", err)
	}
	if hasRoot {
		stored, err := db.Get(stateRootKey)
		if err != nil {
			return nil, fmt.Errorf("load state root: %w", err)
		}
		root = stored
	}

	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}

	node := &Node{
		db:       db,
		trie:     tr,
		state:    state.NewManager(tr),
		lastRoot: tr.Root(),
	}

	rawHeight, err := db.Get(heightKey)
	switch {
	case err == nil && len(rawHeight) == 8:
		node.height = bytesToUint64(rawHeight)
	case err == nil, err == storage.ErrKeyNotFound:
	default:
		return nil, fmt.Errorf("load height: %w", err)
	}

	pauses := pauseSet{}
	for _, module := range cfg.Paused {
		pauses[module] = struct{}{}
	}

	engine := market.NewEngine()
	engine.SetState(node.state)
	engine.SetEmitter(node)
	engine.SetPauses(pauses)
	engine.SetOwner(cfg.Owner)
	engine.SetVault(VaultAddress())
	node.engine = engine

	if root == nil && len(cfg.Genesis) > 0 {
		if err := node.applyGenesis(cfg.Genesis); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (n *Node) applyGenesis(alloc []GenesisAccount) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.execute(func() error {
		for _, account := range alloc {
			if err := n.state.Credit(account.Address, account.Balance); err != nil {
				return fmt.Errorf("genesis alloc: %w", err)
			}
		}
		return nil
	})
	return err
}

// Emit buffers an event for the in-flight transition. Events of unknown shape
// are dropped.
func (n *Node) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	n.pending = append(n.pending, payload)
}

// execute runs fn as one atomic transition against the trie and returns the
// events the transition emitted. The caller must hold the node mutex.
func (n *Node) execute(fn func() error) ([]*types.Event, error) {
	n.pending = nil
	if err := fn(); err != nil {
		n.pending = nil
		if resetErr := n.trie.Reset(n.lastRoot); resetErr != nil {
			return nil, fmt.Errorf("rollback after %v: %w", err, resetErr)
		}
		return nil, err
	}
	newRoot, err := n.trie.Commit(n.lastRoot, n.height)
	if err != nil {
		return nil, fmt.Errorf("commit state: %w", err)
	}
	if err := n.db.Put(stateRootKey, newRoot.Bytes()); err != nil {
		return nil, fmt.Errorf("persist state root: %w", err)
	}
	n.lastRoot = newRoot
	receipt := n.pending
	n.pending = nil
	return receipt, nil
}

// SetAllowed flips the allowlist flag for an asset registry and returns the
// committed transition's events.
func (n *Node) SetAllowed(caller, asset [20]byte, allowed bool) ([]*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.execute(func() error {
		return n.engine.SetAllowed(caller, asset, allowed)
	})
}

// List escrows the caller's asset and returns the new listing id along with
// the committed transition's events.
func (n *Node) List(caller, collection [20]byte, order market.Order) (uint64, []*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var id uint64
	receipt, err := n.execute(func() error {
		var innerErr error
		id, innerErr = n.engine.List(caller, n.height, collection, order)
		return innerErr
	})
	if err != nil {
		return 0, nil, err
	}
	return id, receipt, nil
}

// Cancel retires a listing, returns custody to the maker and returns the
// committed transition's events.
func (n *Node) Cancel(caller [20]byte, id uint64, collection [20]byte) ([]*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.execute(func() error {
		return n.engine.Cancel(caller, id, collection)
	})
}

// FulfilNative settles a native-currency listing on behalf of the caller.
func (n *Node) FulfilNative(caller [20]byte, id uint64, collection [20]byte) (uint64, []*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, err := n.execute(func() error {
		_, innerErr := n.engine.FulfilNative(caller, n.height, id, collection)
		return innerErr
	})
	if err != nil {
		return 0, nil, err
	}
	return id, receipt, nil
}

// FulfilToken settles a token-priced listing on behalf of the caller.
func (n *Node) FulfilToken(caller [20]byte, id uint64, collection, token [20]byte) (uint64, []*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, err := n.execute(func() error {
		_, innerErr := n.engine.FulfilToken(caller, n.height, id, collection, token)
		return innerErr
	})
	if err != nil {
		return 0, nil, err
	}
	return id, receipt, nil
}

// GetListing returns the active listing for the id, if any.
func (n *Node) GetListing(id uint64) (*market.Listing, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetListing(id)
}

// IsAllowed reports whether an asset registry is allowlisted.
func (n *Node) IsAllowed(asset [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.MarketIsAllowed(asset)
}

// BalanceOf returns the native balance of an account.
func (n *Node) BalanceOf(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// TokenBalanceOf returns the fungible token balance of an account.
func (n *Node) TokenBalanceOf(token, addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.TokenBalance(token, addr)
}

// NFTOwner returns the current owner of a token.
func (n *Node) NFTOwner(collection [20]byte, tokenID uint64) ([20]byte, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.NFTOwner(collection, tokenID)
}

// Height returns the current block height.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// AdvanceHeight moves the chain forward one block and returns the new height.
func (n *Node) AdvanceHeight() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	next := n.height + 1
	if err := n.db.Put(heightKey, uint64ToBytes(next)); err != nil {
		return n.height, fmt.Errorf("persist height: %w", err)
	}
	n.height = next
	return next, nil
}

// MintNFT records first ownership of a token within a collection.
func (n *Node) MintNFT(collection [20]byte, tokenID uint64, owner [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.execute(func() error {
		return n.state.MintNFT(collection, tokenID, owner)
	})
	return err
}

// MintToken credits fungible token units to an account.
func (n *Node) MintToken(token, addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.execute(func() error {
		return n.state.MintToken(token, addr, amount)
	})
	return err
}

// Credit adds native currency to an account.
func (n *Node) Credit(addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.execute(func() error {
		return n.state.Credit(addr, amount)
	})
	return err
}

func uint64ToBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func bytesToUint64(raw []byte) uint64 {
	return binary.BigEndian.Uint64(raw)
}
