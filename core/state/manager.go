package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/core/types"
	"nftmarket/native/market"
	"nftmarket/storage/trie"
)

// Manager provides typed access to the state trie: native accounts, the
// simulated asset registries (non-fungible collections and fungible tokens)
// and the marketplace keyspace. It performs no atomicity of its own; the node
// brackets each entry point with a trie commit or reset.
type Manager struct {
	trie *trie.Trie
}

// NewManager wraps the supplied trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

func (m *Manager) get(key []byte) ([]byte, error) {
	return m.trie.Get(key)
}

func (m *Manager) put(key, value []byte) error {
	return m.trie.Update(key, value)
}

// --- Native accounts ---

// GetAccount loads the account stored for the address. Absent accounts are
// materialised with a zero balance.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	var account types.Account
	if err := rlp.DecodeBytes(raw, &account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return &account, nil
}

// PutAccount persists the account under the address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	raw, err := rlp.EncodeToBytes(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return m.put(accountKey(addr), raw)
}

// Transfer moves native currency between accounts. It fails when the sender
// balance does not cover the amount.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	sender, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	receiver, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	receiver.Balance = new(big.Int).Add(receiver.Balance, amount)
	if err := m.PutAccount(from, sender); err != nil {
		return err
	}
	return m.PutAccount(to, receiver)
}

// Credit adds native currency to an account. Used for genesis allocations and
// operator faucets.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr, account)
}

// --- Non-fungible registry ---

// MintNFT records first ownership of a token within a collection. Minting an
// existing token fails.
func (m *Manager) MintNFT(collection [20]byte, tokenID uint64, owner [20]byte) error {
	key := nftOwnerKey(collection, tokenID)
	raw, err := m.get(key)
	if err != nil {
		return err
	}
	if len(raw) != 0 {
		return fmt.Errorf("token already minted")
	}
	return m.put(key, owner[:])
}

// NFTOwner returns the current owner of the token, or false when the token
// has never been minted.
func (m *Manager) NFTOwner(collection [20]byte, tokenID uint64) ([20]byte, bool, error) {
	raw, err := m.get(nftOwnerKey(collection, tokenID))
	if err != nil {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, nil
	}
	var owner [20]byte
	copy(owner[:], raw)
	return owner, true, nil
}

// NFTTransfer reassigns ownership of a token. It fails when the token is
// unminted or the sender is not the current owner.
func (m *Manager) NFTTransfer(collection [20]byte, tokenID uint64, from, to [20]byte) error {
	owner, ok, err := m.NFTOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("token not minted")
	}
	if owner != from {
		return fmt.Errorf("sender does not own token")
	}
	return m.put(nftOwnerKey(collection, tokenID), to[:])
}

// --- Fungible registry ---

// MintToken credits fungible token units to an account.
func (m *Manager) MintToken(token, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	balance, err := m.TokenBalance(token, addr)
	if err != nil {
		return err
	}
	balance = new(big.Int).Add(balance, amount)
	return m.put(tokenBalanceKey(token, addr), balance.Bytes())
}

// TokenBalance returns the fungible token balance of an account.
func (m *Manager) TokenBalance(token, addr [20]byte) (*big.Int, error) {
	raw, err := m.get(tokenBalanceKey(token, addr))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// TokenTransfer moves fungible token units between accounts. It fails when
// the sender balance does not cover the amount.
func (m *Manager) TokenTransfer(token [20]byte, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}
	senderBalance, err := m.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if senderBalance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient token balance")
	}
	receiverBalance, err := m.TokenBalance(token, to)
	if err != nil {
		return err
	}
	senderBalance = new(big.Int).Sub(senderBalance, amount)
	receiverBalance = new(big.Int).Add(receiverBalance, amount)
	if err := m.put(tokenBalanceKey(token, from), senderBalance.Bytes()); err != nil {
		return err
	}
	return m.put(tokenBalanceKey(token, to), receiverBalance.Bytes())
}

// --- Marketplace keyspace ---

// MarketSetAllowed persists the allowlist flag for an asset registry.
func (m *Manager) MarketSetAllowed(asset [20]byte, allowed bool) error {
	value := []byte{0}
	if allowed {
		value = []byte{1}
	}
	return m.put(marketAllowKey(asset), value)
}

// MarketIsAllowed reports whether the asset registry is allowlisted. Unknown
// registries default to false.
func (m *Manager) MarketIsAllowed(asset [20]byte) (bool, error) {
	raw, err := m.get(marketAllowKey(asset))
	if err != nil {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

// MarketNextListingID allocates the next listing id. Ids start at zero and
// increase by one per listing.
func (m *Manager) MarketNextListingID() (uint64, error) {
	key := marketListingSeqKey()
	raw, err := m.get(key)
	if err != nil {
		return 0, err
	}
	var next uint64
	if len(raw) == 8 {
		next = bigEndianUint64(raw)
	}
	if err := m.put(key, bigEndianBytes(next + 1)); err != nil {
		return 0, err
	}
	return next, nil
}

// MarketListingPut validates and persists a listing.
func (m *Manager) MarketListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(sanitized)
	if err != nil {
		return fmt.Errorf("encode listing: %w", err)
	}
	return m.put(marketListingKey(sanitized.ID), raw)
}

// MarketListingGet loads the listing for the id. Terminal listings are
// treated as absent: retired rows stay in state but are invisible to the
// contract surface.
func (m *Manager) MarketListingGet(id uint64) (*market.Listing, bool) {
	raw, err := m.get(marketListingKey(id))
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	var listing market.Listing
	if err := rlp.DecodeBytes(raw, &listing); err != nil {
		return nil, false
	}
	if listing.Status != market.ListingActive {
		return nil, false
	}
	return &listing, true
}
