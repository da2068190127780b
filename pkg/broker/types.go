// Package broker implements the upstream broker WebSocket protocol: request
// envelopes, response parsing, and the per-account session manager (WS
// Session Manager, spec.md §4.1).
package broker

import "encoding/json"

// Outbound envelopes, per spec.md §6.

// AuthorizeRequest authorizes a session with the account's API token.
type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id"`
}

// ProposalRequest requests a price quote for a contract.
type ProposalRequest struct {
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	ReqID        int64   `json:"req_id"`
}

// BuyRequest buys the previously proposed contract.
type BuyRequest struct {
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
	ReqID int64   `json:"req_id"`
}

// SubscribeContractRequest subscribes to updates for an open contract.
type SubscribeContractRequest struct {
	ProposalOpenContract int    `json:"proposal_open_contract"`
	ContractID           int64  `json:"contract_id"`
	Subscribe            int    `json:"subscribe"`
	ReqID                int64  `json:"req_id"`
}

// ForgetRequest cancels a subscription.
type ForgetRequest struct {
	Forget string `json:"forget"`
}

// Inbound response shapes, per spec.md §6.

// Response is the generic envelope every inbound message is decoded into
// first; MsgType and ReqID drive routing, the rest is decoded lazily.
type Response struct {
	MsgType              string              `json:"msg_type"`
	ReqID                int64               `json:"req_id"`
	Error                *BrokerError        `json:"error,omitempty"`
	Authorize            json.RawMessage     `json:"authorize,omitempty"`
	Proposal             *Proposal           `json:"proposal,omitempty"`
	Buy                  *BuyResult          `json:"buy,omitempty"`
	ProposalOpenContract *OpenContractUpdate `json:"proposal_open_contract,omitempty"`
	Subscription         *Subscription       `json:"subscription,omitempty"`
}

// BrokerError is the broker's typed error payload.
type BrokerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Proposal is the broker's price quote.
type Proposal struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
	Spot     float64 `json:"spot"`
}

// BuyResult is the broker's buy confirmation.
type BuyResult struct {
	ContractID int64   `json:"contract_id"`
	BuyPrice   float64 `json:"buy_price"`
	Payout     float64 `json:"payout"`
}

// OpenContractUpdate is a streaming settlement/mark update for a contract.
type OpenContractUpdate struct {
	ContractID  int64   `json:"contract_id"`
	IsSold      bool    `json:"is_sold"`
	Profit      float64 `json:"profit"`
	Status      string  `json:"status"`
	Payout      float64 `json:"payout"`
	CurrentSpot float64 `json:"current_spot"`
}

// Subscription carries the stream id assigned by the broker.
type Subscription struct {
	ID string `json:"id"`
}
