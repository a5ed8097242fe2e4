package rpc

import (
	"encoding/json"
	"math/big"
	"strings"

	"meridianchain/core"
	"meridianchain/crypto"
	"meridianchain/native/trove"
)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"trove_open":               {fn: (*Server).handleTroveOpen, mutating: true},
		"trove_adjust":             {fn: (*Server).handleTroveAdjust, mutating: true},
		"trove_addCollateral":      {fn: (*Server).handleTroveAddCollateral, mutating: true},
		"trove_withdrawCollateral": {fn: (*Server).handleTroveWithdrawCollateral, mutating: true},
		"trove_borrow":             {fn: (*Server).handleTroveBorrow, mutating: true},
		"trove_repay":              {fn: (*Server).handleTroveRepay, mutating: true},
		"trove_close":              {fn: (*Server).handleTroveClose, mutating: true},
		"trove_claimSurplus":       {fn: (*Server).handleTroveClaimSurplus, mutating: true},
		"trove_redeem":             {fn: (*Server).handleTroveRedeem, mutating: true},
		"trove_get":                {fn: (*Server).handleTroveGet},
		"trove_list":               {fn: (*Server).handleTroveList},
		"trove_systemSnapshot":     {fn: (*Server).handleSystemSnapshot},
		"collateral_list":          {fn: (*Server).handleCollateralList},
		"collateral_fee":           {fn: (*Server).handleCollateralFee},
	}
}

// --- parameter envelopes ---

type troveOpenParams struct {
	Owner      string            `json:"owner"`
	Collateral map[string]string `json:"collateral"`
	Debt       string            `json:"debt"`
	MaxFeePct  string            `json:"maxFeePct"`
	PrevHint   string            `json:"prevHint,omitempty"`
	NextHint   string            `json:"nextHint,omitempty"`
}

type troveAdjustParams struct {
	Owner          string            `json:"owner"`
	CollateralIn   map[string]string `json:"collateralIn,omitempty"`
	CollateralOut  map[string]string `json:"collateralOut,omitempty"`
	DebtChange     string            `json:"debtChange,omitempty"`
	IsDebtIncrease bool              `json:"isDebtIncrease,omitempty"`
	MaxFeePct      string            `json:"maxFeePct,omitempty"`
	PrevHint       string            `json:"prevHint,omitempty"`
	NextHint       string            `json:"nextHint,omitempty"`
}

type troveAmountParams struct {
	Owner     string `json:"owner"`
	Symbol    string `json:"symbol,omitempty"`
	Amount    string `json:"amount"`
	MaxFeePct string `json:"maxFeePct,omitempty"`
	PrevHint  string `json:"prevHint,omitempty"`
	NextHint  string `json:"nextHint,omitempty"`
}

type troveOwnerParams struct {
	Owner string `json:"owner"`
}

type troveRedeemParams struct {
	Redeemer      string `json:"redeemer"`
	Amount        string `json:"amount"`
	MaxFee        string `json:"maxFee"`
	FirstHint     string `json:"firstHint,omitempty"`
	ReinsertPrev  string `json:"reinsertPrev,omitempty"`
	ReinsertNext  string `json:"reinsertNext,omitempty"`
	ExpectedICR   string `json:"expectedICR,omitempty"`
	MaxIterations uint64 `json:"maxIterations,omitempty"`
}

type collateralFeeParams struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// --- result envelopes ---

type troveResult struct {
	Owner      string            `json:"owner"`
	Status     string            `json:"status"`
	Collateral map[string]string `json:"collateral"`
	Debt       string            `json:"debt"`
	Stake      string            `json:"stake"`
	ICR        string            `json:"icr,omitempty"`
}

type mutationResult struct {
	Trove   *troveResult  `json:"trove,omitempty"`
	Receipt *core.Receipt `json:"receipt"`
}

type redeemResult struct {
	Attempted  string            `json:"attempted"`
	Actual     string            `json:"actual"`
	Fee        string            `json:"fee"`
	Collateral map[string]string `json:"collateral"`
	Receipt    *core.Receipt     `json:"receipt"`
}

type snapshotResult struct {
	TotalDebt    string            `json:"totalDebt"`
	TotalSupply  string            `json:"totalSupply"`
	Collateral   map[string]string `json:"collateral"`
	TroveCount   uint64            `json:"troveCount"`
	TCR          string            `json:"tcr,omitempty"`
	RecoveryMode bool              `json:"recoveryMode"`
	BaseRate     string            `json:"baseRate"`
}

type assetResult struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    uint8  `json:"decimals"`
	SafetyRatio string `json:"safetyRatio"`
	Active      bool   `json:"active"`
	Wrapped     bool   `json:"wrapped"`
	Underlying  string `json:"underlying,omitempty"`
	ValueCap    string `json:"valueCap"`
}

// --- handlers ---

func (s *Server) handleTroveOpen(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveOpenParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	holdings, rpcErr := parseHoldings(p.Collateral)
	if rpcErr != nil {
		return nil, rpcErr
	}
	debt, rpcErr := parseAmount(p.Debt, "debt")
	if rpcErr != nil {
		return nil, rpcErr
	}
	maxFee, rpcErr := parseOptionalAmount(p.MaxFeePct, "maxFeePct")
	if rpcErr != nil {
		return nil, rpcErr
	}
	prev, next, rpcErr := parseHints(p.PrevHint, p.NextHint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, receipt, err := s.node.OpenTrove(owner, holdings, debt, maxFee, prev, next)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &mutationResult{Trove: troveToResult(t, nil), Receipt: receipt}, nil
}

func (s *Server) handleTroveAdjust(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveAdjustParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	ins, rpcErr := parseHoldings(p.CollateralIn)
	if rpcErr != nil {
		return nil, rpcErr
	}
	outs, rpcErr := parseHoldings(p.CollateralOut)
	if rpcErr != nil {
		return nil, rpcErr
	}
	debtChange, rpcErr := parseOptionalAmount(p.DebtChange, "debtChange")
	if rpcErr != nil {
		return nil, rpcErr
	}
	maxFee, rpcErr := parseOptionalAmount(p.MaxFeePct, "maxFeePct")
	if rpcErr != nil {
		return nil, rpcErr
	}
	prev, next, rpcErr := parseHints(p.PrevHint, p.NextHint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	change := trove.ChangeSet{
		CollateralIn:   ins,
		CollateralOut:  outs,
		DebtChange:     debtChange,
		IsDebtIncrease: p.IsDebtIncrease,
	}
	t, receipt, err := s.node.AdjustTrove(owner, change, maxFee, prev, next)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &mutationResult{Trove: troveToResult(t, nil), Receipt: receipt}, nil
}

func (s *Server) handleTroveAddCollateral(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveAmountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	maxFee, rpcErr := parseOptionalAmount(p.MaxFeePct, "maxFeePct")
	if rpcErr != nil {
		return nil, rpcErr
	}
	prev, next, rpcErr := parseHints(p.PrevHint, p.NextHint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, receipt, err := s.node.AddCollateral(owner, p.Symbol, amount, maxFee, prev, next)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &mutationResult{Trove: troveToResult(t, nil), Receipt: receipt}, nil
}

func (s *Server) handleTroveWithdrawCollateral(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveAmountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	prev, next, rpcErr := parseHints(p.PrevHint, p.NextHint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, receipt, err := s.node.WithdrawCollateral(owner, p.Symbol, amount, prev, next)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &mutationResult{Trove: troveToResult(t, nil), Receipt: receipt}, nil
}

func (s *Server) handleTroveBorrow(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveAmountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	maxFee, rpcErr := parseOptionalAmount(p.MaxFeePct, "maxFeePct")
	if rpcErr != nil {
		return nil, rpcErr
	}
	prev, next, rpcErr := parseHints(p.PrevHint, p.NextHint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, receipt, err := s.node.Borrow(owner, amount, maxFee, prev, next)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &mutationResult{Trove: troveToResult(t, nil), Receipt: receipt}, nil
}

func (s *Server) handleTroveRepay(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveAmountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	prev, next, rpcErr := parseHints(p.PrevHint, p.NextHint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, receipt, err := s.node.Repay(owner, amount, prev, next)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &mutationResult{Trove: troveToResult(t, nil), Receipt: receipt}, nil
}

func (s *Server) handleTroveClose(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveOwnerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	receipt, err := s.node.CloseTrove(owner)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &mutationResult{Receipt: receipt}, nil
}

func (s *Server) handleTroveClaimSurplus(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveOwnerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	claimed, receipt, err := s.node.ClaimSurplus(owner)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return map[string]interface{}{
		"collateral": holdingsToStrings(claimed),
		"receipt":    receipt,
	}, nil
}

func (s *Server) handleTroveRedeem(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveRedeemParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	redeemer, rpcErr := parseAddress(p.Redeemer, "redeemer")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	maxFee, rpcErr := parseAmount(p.MaxFee, "maxFee")
	if rpcErr != nil {
		return nil, rpcErr
	}
	expectedICR, rpcErr := parseOptionalAmount(p.ExpectedICR, "expectedICR")
	if rpcErr != nil {
		return nil, rpcErr
	}
	first, rpcErr := parseHint(p.FirstHint, "firstHint")
	if rpcErr != nil {
		return nil, rpcErr
	}
	reinsertPrev, rpcErr := parseHint(p.ReinsertPrev, "reinsertPrev")
	if rpcErr != nil {
		return nil, rpcErr
	}
	reinsertNext, rpcErr := parseHint(p.ReinsertNext, "reinsertNext")
	if rpcErr != nil {
		return nil, rpcErr
	}
	req := trove.RedemptionRequest{
		Redeemer:      redeemer,
		Amount:        amount,
		MaxFee:        maxFee,
		FirstHint:     first,
		ReinsertPrev:  reinsertPrev,
		ReinsertNext:  reinsertNext,
		ExpectedICR:   expectedICR,
		MaxIterations: p.MaxIterations,
	}
	result, receipt, err := s.node.Redeem(req)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return &redeemResult{
		Attempted:  result.Attempted.String(),
		Actual:     result.Actual.String(),
		Fee:        result.Fee.String(),
		Collateral: holdingsToStrings(result.Collateral),
		Receipt:    receipt,
	}, nil
}

func (s *Server) handleTroveGet(params []json.RawMessage) (interface{}, *RPCError) {
	var p troveOwnerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner, "owner")
	if rpcErr != nil {
		return nil, rpcErr
	}
	t, err := s.node.GetTrove(owner)
	if err != nil {
		return nil, errorToRPC(err)
	}
	var icr *big.Int
	if t.Status == trove.StatusActive {
		icr, _ = s.node.CurrentICR(owner)
	}
	return troveToResult(t, icr), nil
}

func (s *Server) handleTroveList(params []json.RawMessage) (interface{}, *RPCError) {
	owners, err := s.node.ListTroves()
	if err != nil {
		return nil, errorToRPC(err)
	}
	out := make([]string, 0, len(owners))
	for _, owner := range owners {
		out = append(out, owner.String())
	}
	return out, nil
}

func (s *Server) handleSystemSnapshot(params []json.RawMessage) (interface{}, *RPCError) {
	sys, tcr, err := s.node.SystemSnapshot()
	if err != nil {
		return nil, errorToRPC(err)
	}
	baseRate, err := s.node.BaseRate()
	if err != nil {
		return nil, errorToRPC(err)
	}
	result := &snapshotResult{
		TotalDebt:   sys.TotalDebt.String(),
		TotalSupply: sys.TotalSupply.String(),
		Collateral:  holdingsToStrings(sys.CollateralTotals),
		TroveCount:  sys.TroveCount,
		BaseRate:    baseRate.String(),
	}
	if tcr != nil {
		result.TCR = tcr.String()
		params := s.node.Params()
		result.RecoveryMode = tcr.Cmp(params.CCR) < 0
	}
	return result, nil
}

func (s *Server) handleCollateralList(params []json.RawMessage) (interface{}, *RPCError) {
	assets, err := s.node.CollateralAssets()
	if err != nil {
		return nil, errorToRPC(err)
	}
	out := make([]assetResult, 0, len(assets))
	for _, asset := range assets {
		out = append(out, assetResult{
			Symbol:      asset.Symbol,
			Name:        asset.Name,
			Decimals:    asset.Decimals,
			SafetyRatio: asset.SafetyRatio.String(),
			Active:      asset.Active,
			Wrapped:     asset.Wrapped,
			Underlying:  asset.Underlying,
			ValueCap:    asset.ValueCap.String(),
		})
	}
	return out, nil
}

func (s *Server) handleCollateralFee(params []json.RawMessage) (interface{}, *RPCError) {
	var p collateralFeeParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount, "amount")
	if rpcErr != nil {
		return nil, rpcErr
	}
	fee, err := s.node.CollateralFeeQuote(p.Symbol, amount)
	if err != nil {
		return nil, errorToRPC(err)
	}
	return map[string]string{"fee": fee.String()}, nil
}

// --- helpers ---

func decodeParams(params []json.RawMessage, dst interface{}) *RPCError {
	if len(params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single parameter object"}
	}
	if err := json.Unmarshal(params[0], dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "malformed parameters: " + err.Error()}
	}
	return nil
}

func parseAddress(raw, field string) (crypto.Address, *RPCError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: field + ": " + err.Error()}
	}
	return addr, nil
}

func parseHints(prevRaw, nextRaw string) (crypto.Address, crypto.Address, *RPCError) {
	prev, rpcErr := parseHintAddr(prevRaw, "prevHint")
	if rpcErr != nil {
		return crypto.Address{}, crypto.Address{}, rpcErr
	}
	next, rpcErr := parseHintAddr(nextRaw, "nextHint")
	if rpcErr != nil {
		return crypto.Address{}, crypto.Address{}, rpcErr
	}
	return prev, next, nil
}

func parseHintAddr(raw, field string) (crypto.Address, *RPCError) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, nil
	}
	return parseAddress(raw, field)
}

func parseHint(raw, field string) ([20]byte, *RPCError) {
	var out [20]byte
	addr, rpcErr := parseHintAddr(raw, field)
	if rpcErr != nil {
		return out, rpcErr
	}
	if !addr.IsZero() {
		copy(out[:], addr.Bytes())
	}
	return out, nil
}

func parseAmount(raw, field string) (*big.Int, *RPCError) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: field + ": expected non-negative decimal string"}
	}
	return value, nil
}

func parseOptionalAmount(raw, field string) (*big.Int, *RPCError) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw, field)
}

func parseHoldings(raw map[string]string) (map[string]*big.Int, *RPCError) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]*big.Int, len(raw))
	for symbol, amount := range raw {
		value, rpcErr := parseAmount(amount, "collateral "+symbol)
		if rpcErr != nil {
			return nil, rpcErr
		}
		out[symbol] = value
	}
	return out, nil
}

func holdingsToStrings(holdings map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(holdings))
	for symbol, amount := range holdings {
		if amount == nil {
			continue
		}
		out[symbol] = amount.String()
	}
	return out
}

func troveToResult(t *trove.Trove, icr *big.Int) *troveResult {
	if t == nil {
		return nil
	}
	result := &troveResult{
		Owner:      t.Owner.String(),
		Status:     t.Status.String(),
		Collateral: holdingsToStrings(t.Collateral),
		Debt:       t.Debt.String(),
		Stake:      t.Stake.String(),
	}
	if icr != nil {
		result.ICR = icr.String()
	}
	return result
}
