package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"nftmarket/core/types"
	"nftmarket/native/common"
	"nftmarket/native/market"
)

type setAllowedParams struct {
	Caller  string `json:"caller"`
	Asset   string `json:"asset"`
	Allowed bool   `json:"allowed"`
}

type listParams struct {
	Caller     string `json:"caller"`
	Collection string `json:"collection"`
	TokenID    uint64 `json:"tokenId"`
	Price      string `json:"price"`
	Expiry     uint64 `json:"expiry"`
	PayToken   string `json:"payToken,omitempty"`
	Buyer      string `json:"buyer,omitempty"`
}

type cancelParams struct {
	Caller     string `json:"caller"`
	ListingID  uint64 `json:"listingId"`
	Collection string `json:"collection"`
}

type fulfilParams struct {
	Caller     string `json:"caller"`
	ListingID  uint64 `json:"listingId"`
	Collection string `json:"collection"`
	PayToken   string `json:"payToken,omitempty"`
}

type getListingParams struct {
	ListingID uint64 `json:"listingId"`
}

type isAllowedParams struct {
	Asset string `json:"asset"`
}

type nftMintParams struct {
	Collection string `json:"collection"`
	TokenID    uint64 `json:"tokenId"`
	Owner      string `json:"owner"`
}

type tokenMintParams struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type creditParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type listingJSON struct {
	ID         uint64 `json:"id"`
	Collection string `json:"collection"`
	TokenID    uint64 `json:"tokenId"`
	Owner      string `json:"owner"`
	Price      string `json:"price"`
	PayToken   string `json:"payToken,omitempty"`
	Expiry     uint64 `json:"expiry"`
	Buyer      string `json:"buyer,omitempty"`
	CreatedAt  uint64 `json:"createdAt"`
	Status     string `json:"status"`
}

type mutationResult struct {
	ListingID *uint64        `json:"listingId,omitempty"`
	Events    []*types.Event `json:"events"`
}

func (s *Server) handleMarketSetAllowed(w http.ResponseWriter, req *RPCRequest) {
	var params setAllowedParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid caller address", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid asset address", err.Error())
		return
	}
	events, err := s.node.SetAllowed(caller, asset, params.Allowed)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, mutationResult{Events: events})
}

func (s *Server) handleMarketList(w http.ResponseWriter, req *RPCRequest) {
	var params listParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid caller address", err.Error())
		return
	}
	collection, err := parseAddress(params.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid collection address", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid price", err.Error())
		return
	}
	order := market.Order{
		TokenID: params.TokenID,
		Expiry:  params.Expiry,
		Price:   price,
	}
	if params.PayToken != "" {
		order.PayToken, err = parseAddress(params.PayToken)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid payToken address", err.Error())
			return
		}
	}
	if params.Buyer != "" {
		order.Buyer, err = parseAddress(params.Buyer)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid buyer address", err.Error())
			return
		}
	}
	id, events, err := s.node.List(caller, collection, order)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, mutationResult{ListingID: &id, Events: events})
}

func (s *Server) handleMarketCancel(w http.ResponseWriter, req *RPCRequest) {
	var params cancelParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid caller address", err.Error())
		return
	}
	collection, err := parseAddress(params.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid collection address", err.Error())
		return
	}
	events, err := s.node.Cancel(caller, params.ListingID, collection)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, mutationResult{Events: events})
}

func (s *Server) handleMarketFulfilNative(w http.ResponseWriter, req *RPCRequest) {
	var params fulfilParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid caller address", err.Error())
		return
	}
	collection, err := parseAddress(params.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid collection address", err.Error())
		return
	}
	id, events, err := s.node.FulfilNative(caller, params.ListingID, collection)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, mutationResult{ListingID: &id, Events: events})
}

func (s *Server) handleMarketFulfilToken(w http.ResponseWriter, req *RPCRequest) {
	var params fulfilParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid caller address", err.Error())
		return
	}
	collection, err := parseAddress(params.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid collection address", err.Error())
		return
	}
	token, err := parseAddress(params.PayToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid payToken address", err.Error())
		return
	}
	id, events, err := s.node.FulfilToken(caller, params.ListingID, collection, token)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, mutationResult{ListingID: &id, Events: events})
}

func (s *Server) handleMarketGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params getListingParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	listing, ok := s.node.GetListing(params.ListingID)
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleMarketIsAllowed(w http.ResponseWriter, req *RPCRequest) {
	var params isAllowedParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid asset address", err.Error())
		return
	}
	allowed, err := s.node.IsAllowed(asset)
	if err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowed)
}

func (s *Server) handleChainHeight(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Height())
}

func (s *Server) handleNFTMint(w http.ResponseWriter, req *RPCRequest) {
	var params nftMintParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	collection, err := parseAddress(params.Collection)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid collection address", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid owner address", err.Error())
		return
	}
	if err := s.node.MintNFT(collection, params.TokenID, owner); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleTokenMint(w http.ResponseWriter, req *RPCRequest) {
	var params tokenMintParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid token address", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid owner address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.MintToken(token, owner, amount); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleNativeCredit(w http.ResponseWriter, req *RPCRequest) {
	var params creditParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.Credit(addr, amount); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

// decodeParams unmarshals the single object parameter expected by every
// method. It writes the error response itself and reports success.
func (s *Server) decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "expected one parameter object", nil)
		return false
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Params[0]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeMarketInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

// writeMarketError translates engine rejections into the marketplace code
// block. The contract's numeric code rides in the data field.
func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	var contractErr *market.Error
	if errors.As(err, &contractErr) {
		data := map[string]interface{}{
			"contractCode": contractErr.Code(),
			"name":         contractErr.Name(),
		}
		switch contractErr.Code() {
		case market.ErrUnknownListing.Code():
			writeError(w, http.StatusNotFound, id, codeMarketNotFound, contractErr.Error(), data)
		case market.ErrUnauthorized.Code(), market.ErrUnintendedTaker.Code(), market.ErrOwnListing.Code():
			writeError(w, http.StatusForbidden, id, codeMarketForbidden, contractErr.Error(), data)
		default:
			writeError(w, http.StatusConflict, id, codeMarketConflict, contractErr.Error(), data)
		}
		return
	}
	if errors.Is(err, common.ErrModulePaused) {
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, err.Error(), nil)
		return
	}
	writeError(w, http.StatusInternalServerError, id, codeMarketInternal, err.Error(), nil)
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	if !ethcommon.IsHexAddress(value) {
		return out, fmt.Errorf("not a hex address: %q", value)
	}
	copy(out[:], ethcommon.HexToAddress(value).Bytes())
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func listingToJSON(l *market.Listing) *listingJSON {
	if l == nil {
		return nil
	}
	out := &listingJSON{
		ID:         l.ID,
		Collection: ethcommon.Address(l.Collection).Hex(),
		TokenID:    l.TokenID,
		Owner:      ethcommon.Address(l.Owner).Hex(),
		Price:      l.Price.String(),
		Expiry:     l.Expiry,
		CreatedAt:  l.CreatedAt,
		Status:     listingStatusString(l.Status),
	}
	if l.PayToken != ([20]byte{}) {
		out.PayToken = ethcommon.Address(l.PayToken).Hex()
	}
	if l.Buyer != ([20]byte{}) {
		out.Buyer = ethcommon.Address(l.Buyer).Hex()
	}
	return out
}

func listingStatusString(status market.ListingStatus) string {
	switch status {
	case market.ListingActive:
		return "active"
	case market.ListingCancelled:
		return "cancelled"
	case market.ListingFulfilled:
		return "fulfilled"
	default:
		return "unknown"
	}
}
