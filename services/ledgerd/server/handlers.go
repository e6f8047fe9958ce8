package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pynthchain/config"
	"pynthchain/core"
	"pynthchain/crypto"
	"pynthchain/native/collateral"
	"pynthchain/native/crosschain"
	"pynthchain/native/feepool"
	"pynthchain/services/ledgerd/journal"
)

// --- Views ---

type accountResponse struct {
	Account                string `json:"account"`
	Debt                   string `json:"debt"`
	CollateralValue        string `json:"collateralValue"`
	CollateralisationRatio string `json:"collateralisationRatio"`
	TargetRatio            string `json:"targetRatio"`
	MaxIssuable            string `json:"maxIssuable"`
	RemainingIssuable      string `json:"remainingIssuable"`
	TransferableCollateral string `json:"transferableCollateral"`
	FeesAvailable          string `json:"feesAvailable"`
	RewardsAvailable       string `json:"rewardsAvailable"`
	Flagged                bool   `json:"flagged"`
	LiquidationDeadline    int64  `json:"liquidationDeadline,omitempty"`
	OpenForLiquidation     bool   `json:"openForLiquidation"`
	RatesInvalid           bool   `json:"ratesInvalid"`
}

func accountView(s core.AccountSummary) accountResponse {
	out := accountResponse{
		Account:                s.Account.String(),
		Debt:                   units(s.Debt),
		CollateralValue:        units(s.CollateralValue),
		CollateralisationRatio: units(s.CollateralisationRatio),
		TargetRatio:            units(s.TargetRatio),
		MaxIssuable:            units(s.MaxIssuable),
		RemainingIssuable:      units(s.RemainingIssuable),
		TransferableCollateral: units(s.TransferableCollateral),
		FeesAvailable:          units(s.FeesAvailable),
		RewardsAvailable:       units(s.RewardsAvailable),
		Flagged:                s.Flagged,
		OpenForLiquidation:     s.OpenForLiquidation,
		RatesInvalid:           s.RatesInvalid,
	}
	if s.Flagged {
		out.LiquidationDeadline = s.LiquidationDeadline.Unix()
	}
	return out
}

type loanResponse struct {
	ID              uint64 `json:"id"`
	Account         string `json:"account"`
	Collateral      string `json:"collateral"`
	Currency        string `json:"currency"`
	Amount          string `json:"amount"`
	AccruedInterest string `json:"accruedInterest"`
	Short           bool   `json:"short"`
	LastInteraction int64  `json:"lastInteraction"`
	Closed          bool   `json:"closed"`
}

func loanView(l collateral.Loan) loanResponse {
	return loanResponse{
		ID:              l.ID,
		Account:         l.Account.String(),
		Collateral:      units(l.Collateral),
		Currency:        l.Currency,
		Amount:          units(l.Amount),
		AccruedInterest: units(l.AccruedInterest),
		Short:           l.Short,
		LastInteraction: l.LastInteraction.Unix(),
		Closed:          l.Closed,
	}
}

type periodResponse struct {
	ID                  uint64 `json:"id"`
	StartingDebtIndex   uint64 `json:"startingDebtIndex"`
	StartTime           int64  `json:"startTime"`
	FeesToDistribute    string `json:"feesToDistribute"`
	FeesClaimed         string `json:"feesClaimed"`
	RewardsToDistribute string `json:"rewardsToDistribute"`
	RewardsClaimed      string `json:"rewardsClaimed"`
	FeesBurned          string `json:"feesBurned"`
	NetworkDebtShare    string `json:"networkDebtShare"`
}

func periodView(p feepool.FeePeriod) periodResponse {
	return periodResponse{
		ID:                  p.ID,
		StartingDebtIndex:   p.StartingDebtIndex,
		StartTime:           p.StartTime.Unix(),
		FeesToDistribute:    units(p.FeesToDistribute),
		FeesClaimed:         units(p.FeesClaimed),
		RewardsToDistribute: units(p.RewardsToDistribute),
		RewardsClaimed:      units(p.RewardsClaimed),
		FeesBurned:          units(p.FeesBurned),
		NetworkDebtShare:    units(p.NetworkDebtShare),
	}
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	total, totalInvalid := s.node.TotalIssuedPynths()
	share, shareInvalid := s.node.CurrentNetworkDebtPercentage()
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":              config.SettingsFrom(s.node.Settings()),
		"suspended":             s.node.Suspended(),
		"pynths":                s.node.Pynths(),
		"totalIssuedPynths":     units(total),
		"networkDebtPercentage": units(share),
		"totalFeesAvailable":    units(s.node.TotalFeesAvailable()),
		"totalRewardsAvailable": units(s.node.TotalRewardsAvailable()),
		"ratesInvalid":          totalInvalid || shareInvalid,
	})
}

func (s *Server) handleRates(w http.ResponseWriter, _ *http.Request) {
	quotes := s.node.Quotes()
	out := make([]map[string]any, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, map[string]any{
			"key":       q.Key,
			"rate":      units(q.Rate),
			"timestamp": q.Timestamp.Unix(),
			"source":    q.Source,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(s.node.Account(account)))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := chi.URLParam(r, "key")
	writeJSON(w, http.StatusOK, map[string]string{
		"key":     key,
		"balance": units(s.node.BalanceOf(key, account)),
	})
}

func (s *Server) handleAccountLoans(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	loans, err := s.node.LoansOf(chi.URLParam(r, "kind"), account)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]loanResponse, 0, len(loans))
	for _, loan := range loans {
		out = append(out, loanView(loan))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind := chi.URLParam(r, "kind")
	loan, err := s.node.Loan(kind, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view := map[string]any{"loan": loanView(loan)}
	if ratio, err := s.node.LoanRatio(kind, id); err == nil {
		view["collateralRatio"] = units(ratio)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFeePeriods(w http.ResponseWriter, _ *http.Request) {
	periods := s.node.FeePeriods()
	out := make([]periodResponse, 0, len(periods))
	for _, p := range periods {
		out = append(out, periodView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEffectiveDebtRatio(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	period, err := strconv.Atoi(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: period: %v", errBadRequest, err))
		return
	}
	ratio, err := s.node.EffectiveDebtRatioForPeriod(account, period)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ratio": units(ratio)})
}

func (s *Server) handleNetworks(w http.ResponseWriter, _ *http.Request) {
	networks := s.node.Networks()
	out := make([]map[string]any, 0, len(networks))
	for _, n := range networks {
		out = append(out, map[string]any{
			"networkId":  n.NetworkID,
			"issuedDebt": units(n.IssuedDebt),
			"activeDebt": units(n.ActiveDebt),
			"version":    n.Version,
			"reportId":   n.ReportID,
			"updatedAt":  n.UpdatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollateralTypes(w http.ResponseWriter, _ *http.Request) {
	types := s.node.CollateralTypes()
	out := make([]map[string]any, 0, len(types))
	for _, c := range types {
		out = append(out, map[string]any{
			"name":               c.Name,
			"key":                c.Key,
			"minCratio":          units(c.MinCratio),
			"minCollateral":      units(c.MinCollateral),
			"issueFeeRate":       units(c.IssueFeeRate),
			"liquidationPenalty": units(c.LiquidationPenalty),
			"interactionDelay":   c.InteractionDelay.String(),
			"canOpenLoans":       c.CanOpenLoans,
			"short":              c.Short,
			"currencies":         c.Currencies,
		})
	}
	utilisation, invalid := s.node.LoanUtilisation()
	writeJSON(w, http.StatusOK, map[string]any{
		"types":        out,
		"utilisation":  units(utilisation),
		"ratesInvalid": invalid,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("event journal disabled"))
		return
	}
	q := r.URL.Query()
	filter := journal.Filter{Type: q.Get("type"), Account: q.Get("account")}
	if after := q.Get("after"); after != "" {
		v, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: after: %v", errBadRequest, err))
			return
		}
		filter.AfterSequence = v
	}
	if limit := q.Get("limit"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit: %v", errBadRequest, err))
			return
		}
		filter.Limit = v
	}
	entries, err := s.journal.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"sequence":   e.Sequence,
			"type":       e.Type,
			"account":    e.Account,
			"recordedAt": e.RecordedAt.Unix(),
			"attributes": e.Decoded(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Issuance and staking ---

type amountRequest struct {
	Amount string `json:"amount"`
}

type tokenRequest struct {
	Key    string `json:"key"`
	Amount string `json:"amount"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "issue", func(caller crypto.Address) (any, error) {
		var req amountRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return nil, s.node.IssuePynths(caller, amount)
	})
}

func (s *Server) handleIssueMax(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "issueMax", func(caller crypto.Address) (any, error) {
		issued, err := s.node.IssueMaxPynths(caller)
		return amountResult("issued", issued), err
	})
}

func (s *Server) handleIssueWithToken(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "issueWithToken", func(caller crypto.Address) (any, error) {
		var req struct {
			Key         string `json:"key"`
			StakeAmount string `json:"stakeAmount"`
			Amount      string `json:"amount"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		stake, err := parseAmount("stakeAmount", req.StakeAmount)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return nil, s.node.IssuePynthsWithToken(caller, req.Key, stake, amount)
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "burn", func(caller crypto.Address) (any, error) {
		var req amountRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		burned, err := s.node.BurnPynths(caller, amount)
		return amountResult("burned", burned), err
	})
}

func (s *Server) handleBurnToTarget(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "burnToTarget", func(caller crypto.Address) (any, error) {
		burned, err := s.node.BurnPynthsToTarget(caller)
		return amountResult("burned", burned), err
	})
}

func (s *Server) handleBurnAndUnstake(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "burnAndUnstake", func(caller crypto.Address) (any, error) {
		var req struct {
			BurnAmount    string `json:"burnAmount"`
			Key           string `json:"key"`
			UnstakeAmount string `json:"unstakeAmount"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		burn, err := parseAmount("burnAmount", req.BurnAmount)
		if err != nil {
			return nil, err
		}
		unstake, err := parseAmount("unstakeAmount", req.UnstakeAmount)
		if err != nil {
			return nil, err
		}
		return nil, s.node.BurnPynthsAndUnstake(caller, burn, req.Key, unstake)
	})
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "stake", func(caller crypto.Address) (any, error) {
		req, amount, err := decodeToken(r)
		if err != nil {
			return nil, err
		}
		return nil, s.node.Stake(caller, req.Key, amount)
	})
}

func (s *Server) handleStakeMax(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "stakeMax", func(caller crypto.Address) (any, error) {
		var req struct {
			Key string `json:"key"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		staked, err := s.node.StakeToMaxQuota(caller, req.Key)
		return amountResult("staked", staked), err
	})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "unstake", func(caller crypto.Address) (any, error) {
		req, amount, err := decodeToken(r)
		if err != nil {
			return nil, err
		}
		return nil, s.node.Unstake(caller, req.Key, amount)
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "transfer", func(caller crypto.Address) (any, error) {
		var req struct {
			To     string `json:"to"`
			Key    string `json:"key"`
			Amount string `json:"amount"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		to, err := parseAddress("to", req.To)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return nil, s.node.Transfer(caller, to, req.Key, amount)
	})
}

// --- Liquidations ---

type accountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount,omitempty"`
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "flag", func(crypto.Address) (any, error) {
		account, _, err := decodeAccount(r)
		if err != nil {
			return nil, err
		}
		deadline, err := s.node.FlagAccountForLiquidation(account)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"deadline": deadline.Unix()}, nil
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "checkAndRemove", func(crypto.Address) (any, error) {
		account, _, err := decodeAccount(r)
		if err != nil {
			return nil, err
		}
		removed, err := s.node.CheckAndRemoveAccountInLiquidation(account)
		return map[string]bool{"removed": removed}, err
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "liquidate", func(caller crypto.Address) (any, error) {
		account, amount, err := decodeAccount(r)
		if err != nil {
			return nil, err
		}
		if amount == nil {
			return nil, fmt.Errorf("%w: amount required", errBadRequest)
		}
		result, err := s.node.LiquidateDelinquentAccount(caller, account, amount)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"amountBurned":    units(result.AmountBurned),
			"valueRedeemed":   units(result.ValueRedeemed),
			"primaryRedeemed": units(result.PrimaryRedeemed),
			"flagRemoved":     result.FlagRemoved,
		}, nil
	})
}

// --- Fee pool ---

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "claimFees", func(caller crypto.Address) (any, error) {
		fees, rewards, err := s.node.ClaimFees(caller)
		if err != nil {
			return nil, err
		}
		return map[string]string{"fees": units(fees), "rewards": units(rewards)}, nil
	})
}

func (s *Server) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "closeFeePeriod", func(caller crypto.Address) (any, error) {
		var req struct {
			Rewards string `json:"rewards"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		rewards, err := optionalAmount("rewards", req.Rewards)
		if err != nil {
			return nil, err
		}
		closed, err := s.node.CloseCurrentFeePeriod(caller, rewards)
		if err != nil {
			return nil, err
		}
		return periodView(closed), nil
	})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "setRewards", func(caller crypto.Address) (any, error) {
		var req amountRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return nil, s.node.SetRewardsToDistribute(caller, amount)
	})
}

// --- Loans ---

type loanRequest struct {
	Borrower string `json:"borrower,omitempty"`
	Amount   string `json:"amount"`
}

func (s *Server) handleOpenLoan(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	s.mutate(w, r, "openLoan", func(caller crypto.Address) (any, error) {
		var req struct {
			Collateral string `json:"collateral"`
			Amount     string `json:"amount"`
			Currency   string `json:"currency"`
			Short      bool   `json:"short"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		coll, err := parseAmount("collateral", req.Collateral)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		id, err := s.node.OpenLoan(kind, caller, coll, amount, req.Currency, req.Short)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"id": id}, nil
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.loanOp(w, r, "depositCollateral", func(kind string, caller, borrower crypto.Address, id uint64, amount *big.Int) (any, error) {
		return nil, s.node.DepositCollateral(kind, caller, borrower, id, amount)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.loanOp(w, r, "withdrawCollateral", func(kind string, caller, _ crypto.Address, id uint64, amount *big.Int) (any, error) {
		return nil, s.node.WithdrawCollateral(kind, caller, id, amount)
	})
}

func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	s.loanOp(w, r, "drawLoan", func(kind string, caller, _ crypto.Address, id uint64, amount *big.Int) (any, error) {
		return nil, s.node.DrawLoan(kind, caller, id, amount)
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.loanOp(w, r, "repayLoan", func(kind string, caller, borrower crypto.Address, id uint64, amount *big.Int) (any, error) {
		return nil, s.node.RepayLoan(kind, caller, borrower, id, amount)
	})
}

func (s *Server) handleRepayWithCollateral(w http.ResponseWriter, r *http.Request) {
	s.loanOp(w, r, "repayLoanWithCollateral", func(kind string, caller, _ crypto.Address, id uint64, amount *big.Int) (any, error) {
		return nil, s.node.RepayLoanWithCollateral(kind, caller, id, amount)
	})
}

func (s *Server) handleLiquidateLoan(w http.ResponseWriter, r *http.Request) {
	s.loanOp(w, r, "liquidateLoan", func(kind string, caller, borrower crypto.Address, id uint64, amount *big.Int) (any, error) {
		redeemed, err := s.node.LiquidateLoan(kind, caller, borrower, id, amount)
		return amountResult("collateralRedeemed", redeemed), err
	})
}

func (s *Server) handleCloseLoan(w http.ResponseWriter, r *http.Request) {
	s.closeLoan(w, r, "closeLoan", s.node.CloseLoan)
}

func (s *Server) handleCloseLoanWithCollateral(w http.ResponseWriter, r *http.Request) {
	s.closeLoan(w, r, "closeLoanWithCollateral", s.node.CloseLoanWithCollateral)
}

func (s *Server) closeLoan(w http.ResponseWriter, r *http.Request, op string, fn func(string, crypto.Address, uint64) (*big.Int, error)) {
	kind := chi.URLParam(r, "kind")
	s.mutate(w, r, op, func(caller crypto.Address) (any, error) {
		id, err := loanID(r)
		if err != nil {
			return nil, err
		}
		returned, err := fn(kind, caller, id)
		return amountResult("collateralReturned", returned), err
	})
}

// loanOp decodes the loan id, amount and optional borrower (defaulting to the
// caller) shared by the per-loan endpoints.
func (s *Server) loanOp(w http.ResponseWriter, r *http.Request, op string, fn func(kind string, caller, borrower crypto.Address, id uint64, amount *big.Int) (any, error)) {
	kind := chi.URLParam(r, "kind")
	s.mutate(w, r, op, func(caller crypto.Address) (any, error) {
		id, err := loanID(r)
		if err != nil {
			return nil, err
		}
		var req loanRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		borrower := caller
		if strings.TrimSpace(req.Borrower) != "" {
			if borrower, err = parseAddress("borrower", req.Borrower); err != nil {
				return nil, err
			}
		}
		return fn(kind, caller, borrower, id, amount)
	})
}

// --- Cross-network debt ---

type debtUpdateRequest struct {
	NetworkID  uint64 `json:"networkId"`
	IssuedDebt string `json:"issuedDebt"`
	ActiveDebt string `json:"activeDebt"`
	Version    uint64 `json:"version"`
}

func (u debtUpdateRequest) parse() (crosschain.DebtUpdate, error) {
	issued, err := parseAmount("issuedDebt", u.IssuedDebt)
	if err != nil {
		return crosschain.DebtUpdate{}, err
	}
	active, err := parseAmount("activeDebt", u.ActiveDebt)
	if err != nil {
		return crosschain.DebtUpdate{}, err
	}
	return crosschain.DebtUpdate{NetworkID: u.NetworkID, IssuedDebt: issued, ActiveDebt: active, Version: u.Version}, nil
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "applyDebtReport", func(caller crypto.Address) (any, error) {
		var req struct {
			ID      string              `json:"id"`
			Updates []debtUpdateRequest `json:"updates"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		updates := make([]crosschain.DebtUpdate, 0, len(req.Updates))
		for _, u := range req.Updates {
			update, err := u.parse()
			if err != nil {
				return nil, err
			}
			updates = append(updates, update)
		}
		report := crosschain.NewReport(updates...)
		if id := strings.TrimSpace(req.ID); id != "" {
			report.ID = id
		}
		result, err := s.node.ApplyDebtReport(caller, report)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"reportId":  result.ReportID,
			"digest":    result.Digest,
			"applied":   result.Applied,
			"skipped":   result.Skipped,
			"duplicate": result.Duplicate,
		}, nil
	})
}

func (s *Server) handleCrossDebt(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "setCrossNetworkDebt", func(caller crypto.Address) (any, error) {
		var req debtUpdateRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		update, err := req.parse()
		if err != nil {
			return nil, err
		}
		applied, err := s.node.SetCrossNetworkDebt(caller, update)
		return map[string]bool{"applied": applied}, err
	})
}

// --- Administration ---

func (s *Server) handleUpdateRate(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "updateRate", func(caller crypto.Address) (any, error) {
		var req struct {
			Key       string `json:"key"`
			Rate      string `json:"rate"`
			Timestamp int64  `json:"timestamp"`
			Source    string `json:"source"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		rate, err := parseAmount("rate", req.Rate)
		if err != nil {
			return nil, err
		}
		var ts time.Time
		if req.Timestamp > 0 {
			ts = time.Unix(req.Timestamp, 0).UTC()
		}
		return nil, s.node.UpdateRate(caller, req.Key, rate, ts, req.Source)
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "fund", func(caller crypto.Address) (any, error) {
		var req struct {
			Key    string `json:"key"`
			To     string `json:"to"`
			Amount string `json:"amount"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		to, err := parseAddress("to", req.To)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return nil, err
		}
		return nil, s.node.Fund(caller, req.Key, to, amount)
	})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "suspend", func(caller crypto.Address) (any, error) {
		var req struct {
			Section string `json:"section"`
			Reason  string `json:"reason"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return nil, s.node.Suspend(caller, req.Section, req.Reason)
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "resume", func(caller crypto.Address) (any, error) {
		var req struct {
			Section string `json:"section"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return nil, s.node.Resume(caller, req.Section)
	})
}

// handleSettings applies a partial settings update over the current values.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "applySettings", func(caller crypto.Address) (any, error) {
		var req config.Settings
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		next, err := req.Merge(config.SettingsFrom(s.node.Settings())).Parse()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if err := s.node.ApplySettings(caller, next); err != nil {
			return nil, err
		}
		return config.SettingsFrom(next), nil
	})
}

func (s *Server) handleAddPynth(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "addPynth", func(caller crypto.Address) (any, error) {
		var req struct {
			Key string `json:"key"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return nil, s.node.AddPynth(caller, req.Key)
	})
}

func (s *Server) handleRemovePynth(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.mutate(w, r, "removePynth", func(caller crypto.Address) (any, error) {
		return nil, s.node.RemovePynth(caller, key)
	})
}

func decodeToken(r *http.Request) (tokenRequest, *big.Int, error) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		return req, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	return req, amount, err
}

func decodeAccount(r *http.Request) (crypto.Address, *big.Int, error) {
	var req accountRequest
	if err := decode(r, &req); err != nil {
		return crypto.Address{}, nil, err
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	amount, err := optionalAmount("amount", req.Amount)
	return account, amount, err
}

func loanID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: loan id: %v", errBadRequest, err)
	}
	return id, nil
}

func amountResult(name string, v *big.Int) map[string]string {
	return map[string]string{name: units(v)}
}
