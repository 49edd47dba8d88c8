package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paysettle/core/events"
	"paysettle/core/state"
	"paysettle/core/types"
	"paysettle/native/authority"
	"paysettle/native/settlement"
	"paysettle/services/settled/journal"
)

const maxBodyBytes = 64 << 10

type paymentRequest struct {
	OrderID      string        `json:"orderId"`
	PayInAsset   types.Address `json:"payInAsset"`
	PayOutAsset  types.Address `json:"payOutAsset"`
	PayInAmount  uint64        `json:"payInAmount"`
	PayOutAmount uint64        `json:"payOutAmount"`
	Merchant     types.Address `json:"merchant"`
	Expiry       int64         `json:"expiry"`
}

func (p paymentRequest) payment() settlement.Payment {
	return settlement.Payment{
		OrderID:      p.OrderID,
		PayInAsset:   p.PayInAsset,
		PayOutAsset:  p.PayOutAsset,
		PayInAmount:  p.PayInAmount,
		PayOutAmount: p.PayOutAmount,
		Merchant:     p.Merchant,
		Expiry:       p.Expiry,
	}
}

type transferAccountsRequest struct {
	Source      types.Address `json:"source"`
	Destination types.Address `json:"destination"`
	Treasury    types.Address `json:"treasury"`
}

type swapAccountsRequest struct {
	Source      types.Address `json:"source"`
	Output      types.Address `json:"output"`
	Destination types.Address `json:"destination"`
	Treasury    types.Address `json:"treasury"`
}

type routeRequest struct {
	Protocol string        `json:"protocol"`
	Pool     types.Address `json:"pool"`
}

type receiverRequest struct {
	Account   types.Address `json:"account"`
	WeightBps uint32        `json:"weightBps"`
}

type directRequest struct {
	Payment  paymentRequest          `json:"payment"`
	Accounts transferAccountsRequest `json:"accounts"`
}

type splitRequest struct {
	Payment   paymentRequest          `json:"payment"`
	Accounts  transferAccountsRequest `json:"accounts"`
	Receivers []receiverRequest       `json:"receivers"`
}

type swapRequest struct {
	Payment  paymentRequest      `json:"payment"`
	Route    routeRequest        `json:"route"`
	Accounts swapAccountsRequest `json:"accounts"`
}

// donationRequest settles directly unless Route is present, in which case
// SwapAccounts must be supplied.
type donationRequest struct {
	Payment      paymentRequest           `json:"payment"`
	Accounts     *transferAccountsRequest `json:"accounts,omitempty"`
	Route        *routeRequest            `json:"route,omitempty"`
	SwapAccounts *swapAccountsRequest     `json:"swapAccounts,omitempty"`
}

type redeemRequest struct {
	Amount      uint64        `json:"amount"`
	Treasury    types.Address `json:"treasury"`
	Destination types.Address `json:"destination"`
}

type ownerRequest struct {
	NewOwner types.Address `json:"newOwner"`
}

type legResponse struct {
	Kind        string        `json:"kind"`
	Source      types.Address `json:"source"`
	Destination types.Address `json:"destination"`
	Amount      uint64        `json:"amount"`
}

type receiptResponse struct {
	Variant      string        `json:"variant,omitempty"`
	Donation     bool          `json:"donation,omitempty"`
	OrderID      string        `json:"orderId,omitempty"`
	FeeCollected uint64        `json:"feeCollected"`
	Dust         uint64        `json:"dust,omitempty"`
	SwapOutput   uint64        `json:"swapOutput,omitempty"`
	Legs         []legResponse `json:"legs"`
	Event        *types.Event  `json:"event,omitempty"`
	RequestID    string        `json:"requestId,omitempty"`
}

type accountResponse struct {
	Address types.Address `json:"address"`
	Owner   types.Address `json:"owner"`
	Asset   types.Address `json:"asset"`
	Amount  uint64        `json:"amount"`
}

// SettleDirect handles POST /v1/settlements/direct.
func (s *Server) SettleDirect(w http.ResponseWriter, r *http.Request) {
	var req directRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.settle(w, r, settlement.VariantDirect.String(), func(eng *settlement.Engine, payer types.Address) (*settlement.Receipt, error) {
		return eng.SettleDirect(req.Payment.payment(), transferAccounts(payer, req.Accounts))
	})
}

// SettleSplit handles POST /v1/settlements/split.
func (s *Server) SettleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Receivers) > events.FeeReceiverSlots {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d fee receivers", events.FeeReceiverSlots))
		return
	}
	var set settlement.FeeReceiverSet
	for i, rcv := range req.Receivers {
		set[i] = settlement.FeeReceiver{Account: rcv.Account, WeightBps: rcv.WeightBps}
	}
	s.settle(w, r, settlement.VariantSplitFee.String(), func(eng *settlement.Engine, payer types.Address) (*settlement.Receipt, error) {
		return eng.SettleWithFeeSplit(req.Payment.payment(), transferAccounts(payer, req.Accounts), set)
	})
}

// SettleSwap handles POST /v1/settlements/swap.
func (s *Server) SettleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.settle(w, r, settlement.VariantSwapMediated.String(), func(eng *settlement.Engine, payer types.Address) (*settlement.Receipt, error) {
		return eng.SettleViaSwap(req.Payment.payment(), swapRoute(req.Route), swapAccounts(payer, req.Accounts))
	})
}

// SettleDonation handles POST /v1/settlements/donation.
func (s *Server) SettleDonation(w http.ResponseWriter, r *http.Request) {
	var req donationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Route != nil {
		if req.SwapAccounts == nil {
			writeError(w, http.StatusBadRequest, "swapAccounts required with route")
			return
		}
		s.settle(w, r, "donation_swap", func(eng *settlement.Engine, payer types.Address) (*settlement.Receipt, error) {
			return eng.SettleDonationViaSwap(req.Payment.payment(), swapRoute(*req.Route), swapAccounts(payer, *req.SwapAccounts))
		})
		return
	}
	if req.Accounts == nil {
		writeError(w, http.StatusBadRequest, "accounts required")
		return
	}
	s.settle(w, r, "donation", func(eng *settlement.Engine, payer types.Address) (*settlement.Receipt, error) {
		return eng.SettleDonation(req.Payment.payment(), transferAccounts(payer, *req.Accounts))
	})
}

// RedeemFees handles POST /v1/treasury/redeem.
func (s *Server) RedeemFees(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.settle(w, r, "redeem", func(eng *settlement.Engine, requester types.Address) (*settlement.Receipt, error) {
		return eng.RedeemFees(req.Amount, settlement.RedeemAccounts{
			Requester:   requester,
			Treasury:    req.Treasury,
			Destination: req.Destination,
		})
	})
}

// ChangeOwner handles POST /v1/owner.
func (s *Server) ChangeOwner(w http.ResponseWriter, r *http.Request) {
	requester, err := IdentityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req ownerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	_, err = s.envelope.Execute(r.Context(), func(txn *state.Txn, _ events.Emitter) error {
		return authority.NewRegistry(txn, s.module).ChangeOwner(req.NewOwner, requester)
	})
	if err != nil {
		s.writeSettlementError(w, r, err)
		return
	}
	s.logger.Info("module owner changed", "requester", requester.String(), "requestId", RequestIDFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]types.Address{"owner": req.NewOwner})
}

// GetAccount handles GET /v1/accounts/{address}.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	acct, err := s.envelope.Ledger().TokenAccount(addr)
	if err != nil {
		if errors.Is(err, state.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Address: acct.Address, Owner: acct.Owner, Asset: acct.Asset, Amount: acct.Amount})
}

// ListEvents handles GET /v1/events.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	query := r.URL.Query()
	filter := journal.Filter{
		OrderID: query.Get("orderId"),
		Type:    strings.TrimSpace(query.Get("type")),
		Limit:   100,
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		filter.AfterSeq = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}
	records, err := s.journal.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

type engineCall func(eng *settlement.Engine, caller types.Address) (*settlement.Receipt, error)

// settle runs call inside one envelope transaction with an engine bound to
// that transaction, then records metrics and writes the receipt.
func (s *Server) settle(w http.ResponseWriter, r *http.Request, variant string, call engineCall) {
	caller, err := IdentityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	start := time.Now()
	receipt, err := s.execute(r.Context(), caller, call)
	if err != nil {
		s.metrics.ObserveSettlement(variant, outcomeLabel(err), time.Since(start))
		s.writeSettlementError(w, r, err)
		return
	}
	s.metrics.ObserveSettlement(variant, "ok", time.Since(start))
	if variant == "redeem" {
		s.metrics.ObserveRedemption()
	} else {
		s.metrics.AddFee(variant, receipt.Fee, receipt.Dust)
		if receipt.Variant == settlement.VariantSwapMediated {
			s.metrics.ObserveSwapOutput(receiptProtocol(receipt), receipt.SwapOutput)
		}
	}
	s.logger.Info("settlement committed",
		"variant", variant,
		"orderId", receipt.OrderID,
		"requestId", RequestIDFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, toReceiptResponse(receipt, RequestIDFromContext(r.Context())))
}

func (s *Server) execute(ctx context.Context, caller types.Address, call engineCall) (*settlement.Receipt, error) {
	var receipt *settlement.Receipt
	_, err := s.envelope.Execute(ctx, func(txn *state.Txn, emitter events.Emitter) error {
		eng := s.engine.Bind(txn, authority.NewRegistry(txn, s.module), emitter)
		out, err := call(eng, caller)
		if err != nil {
			return err
		}
		receipt = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *Server) writeSettlementError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	level := s.logger.Warn
	if status >= http.StatusInternalServerError {
		level = s.logger.Error
	}
	level("settlement rejected", "code", code, "status", status, "requestId", RequestIDFromContext(r.Context()), "error", err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// classify maps engine and ledger failures to an HTTP status and a stable
// error code. Ledger causes are checked before ErrExternalCall because a
// failed leg wraps both.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, settlement.ErrPaymentExpired):
		return http.StatusConflict, "payment_expired"
	case errors.Is(err, settlement.ErrInvalidPercentage):
		return http.StatusUnprocessableEntity, "invalid_percentage"
	case errors.Is(err, settlement.ErrArithmeticUnderflow):
		return http.StatusUnprocessableEntity, "arithmetic_underflow"
	case errors.Is(err, settlement.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity, "arithmetic_overflow"
	case errors.Is(err, settlement.ErrInvalidOwner):
		return http.StatusForbidden, "invalid_owner"
	case errors.Is(err, authority.ErrNotInitialized):
		return http.StatusConflict, "owner_not_initialized"
	case errors.Is(err, settlement.ErrZeroAmount):
		return http.StatusUnprocessableEntity, "zero_amount"
	case errors.Is(err, settlement.ErrUnknownProtocol):
		return http.StatusBadRequest, "unknown_protocol"
	case errors.Is(err, state.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, state.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized_account"
	case errors.Is(err, state.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, state.ErrAssetMismatch):
		return http.StatusUnprocessableEntity, "asset_mismatch"
	case errors.Is(err, settlement.ErrExternalCall):
		return http.StatusBadGateway, "external_call_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func outcomeLabel(err error) string {
	_, code := classify(err)
	return code
}

func receiptProtocol(receipt *settlement.Receipt) string {
	if receipt == nil || receipt.Event == nil {
		return ""
	}
	if payload := receipt.Event.Event(); payload != nil {
		return payload.Attributes["protocol"]
	}
	return ""
}

func toReceiptResponse(receipt *settlement.Receipt, requestID string) receiptResponse {
	resp := receiptResponse{
		Donation:     receipt.Donation,
		OrderID:      receipt.OrderID,
		FeeCollected: receipt.Fee,
		Dust:         receipt.Dust,
		SwapOutput:   receipt.SwapOutput,
		Legs:         make([]legResponse, 0, len(receipt.Legs)),
		RequestID:    requestID,
	}
	if receipt.Variant != 0 {
		resp.Variant = receipt.Variant.String()
	}
	for _, leg := range receipt.Legs {
		resp.Legs = append(resp.Legs, legResponse{Kind: leg.Kind.String(), Source: leg.Source, Destination: leg.Destination, Amount: leg.Amount})
	}
	if receipt.Event != nil {
		resp.Event = receipt.Event.Event()
	}
	return resp
}

func transferAccounts(payer types.Address, req transferAccountsRequest) settlement.TransferAccounts {
	return settlement.TransferAccounts{Payer: payer, Source: req.Source, Destination: req.Destination, Treasury: req.Treasury}
}

func swapAccounts(payer types.Address, req swapAccountsRequest) settlement.SwapAccounts {
	return settlement.SwapAccounts{Payer: payer, Source: req.Source, Output: req.Output, Destination: req.Destination, Treasury: req.Treasury}
}

func swapRoute(req routeRequest) settlement.SwapRoute {
	return settlement.SwapRoute{Protocol: req.Protocol, Pool: req.Pool}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}
