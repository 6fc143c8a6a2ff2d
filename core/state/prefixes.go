package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// State keys are keccak256 hashes of a short namespace prefix followed by the
// identifying payload. The trie wrapper expects pre-hashed keys.
const (
	accountPrefix      = "account:"
	marketAllowPrefix  = "market/allow:"
	marketListPrefix   = "market/listing:"
	marketListSeqKey   = "market/listing-seq"
	nftOwnerPrefix     = "nft/owner:"
	tokenBalancePrefix = "token/balance:"
)

func accountKey(addr [20]byte) []byte {
	return hashKey([]byte(accountPrefix), addr[:])
}

func marketAllowKey(asset [20]byte) []byte {
	return hashKey([]byte(marketAllowPrefix), asset[:])
}

func marketListingKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return hashKey([]byte(marketListPrefix), buf[:])
}

func marketListingSeqKey() []byte {
	return hashKey([]byte(marketListSeqKey))
}

func nftOwnerKey(collection [20]byte, tokenID uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tokenID)
	return hashKey([]byte(nftOwnerPrefix), collection[:], buf[:])
}

func tokenBalanceKey(token, addr [20]byte) []byte {
	return hashKey([]byte(tokenBalancePrefix), token[:], addr[:])
}

func hashKey(parts ...[]byte) []byte {
	return crypto.Keccak256(parts...)
}

func bigEndianBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func bigEndianUint64(raw []byte) uint64 {
	return binary.BigEndian.Uint64(raw)
}
