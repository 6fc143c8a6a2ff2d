package types

// Event is one entry of a transition receipt: a marketplace lifecycle change
// (listed, cancelled, fulfilled, allowlist update) or an asset/payment
// custody notification. Attributes carry hex-encoded addresses and decimal
// amounts so receipts serialise directly over JSON-RPC.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
