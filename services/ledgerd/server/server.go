package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pynthchain/core"
	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
	"pynthchain/observability"
	telemetry "pynthchain/observability/otel"
	"pynthchain/services/ledgerd/journal"
)

const maxBodyBytes = 1 << 20

var errRateLimited = errors.New("rate limit exceeded")

// Config captures the dependencies required to construct the server.
type Config struct {
	Node      *core.Node
	Journal   *journal.Journal
	Verifier  *Verifier
	Limiter   *RateLimiter
	ExportDir string
	Logger    *slog.Logger
}

// Server exposes a ledger node over HTTP.
type Server struct {
	node      *core.Node
	journal   *journal.Journal
	verifier  *Verifier
	limiter   *RateLimiter
	exportDir string
	logger    *slog.Logger

	router http.Handler
}

// New constructs the HTTP API.
func New(cfg Config) (*Server, error) {
	if cfg.Node == nil {
		return nil, errors.New("server: node required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server: verifier required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(600, 60)
	}
	srv := &Server{
		node:      cfg.Node,
		journal:   cfg.Journal,
		verifier:  cfg.Verifier,
		limiter:   cfg.Limiter,
		exportDir: strings.TrimSpace(cfg.ExportDir),
		logger:    cfg.Logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/system", s.handleSystem)
			public.Get("/rates", s.handleRates)
			public.Get("/accounts/{address}", s.handleAccount)
			public.Get("/accounts/{address}/balances/{key}", s.handleBalance)
			public.Get("/accounts/{address}/loans/{kind}", s.handleAccountLoans)
			public.Get("/feepool/periods", s.handleFeePeriods)
			public.Get("/feepool/periods/{period}/ratio/{address}", s.handleEffectiveDebtRatio)
			public.Get("/feepool/export", s.handleExport)
			public.Get("/crosschain/networks", s.handleNetworks)
			public.Get("/collateral", s.handleCollateralTypes)
			public.Get("/collateral/{kind}/loans/{id}", s.handleLoan)
			public.Get("/events", s.handleEvents)
		})

		api.Group(func(private chi.Router) {
			private.Use(s.verifier.Authenticate)
			private.Use(s.limiter.Middleware)
			private.Use(chimw.AllowContentType("application/json"))

			private.Post("/issue", s.handleIssue)
			private.Post("/issue/max", s.handleIssueMax)
			private.Post("/issue/with-token", s.handleIssueWithToken)
			private.Post("/burn", s.handleBurn)
			private.Post("/burn/to-target", s.handleBurnToTarget)
			private.Post("/burn/and-unstake", s.handleBurnAndUnstake)
			private.Post("/stake", s.handleStake)
			private.Post("/stake/max", s.handleStakeMax)
			private.Post("/unstake", s.handleUnstake)
			private.Post("/transfer", s.handleTransfer)

			private.Post("/liquidations/flag", s.handleFlag)
			private.Post("/liquidations/check", s.handleCheck)
			private.Post("/liquidations/liquidate", s.handleLiquidate)

			private.Post("/feepool/claim", s.handleClaim)
			private.Post("/feepool/close", s.handleClosePeriod)
			private.Post("/feepool/rewards", s.handleRewards)

			private.Post("/loans/{kind}", s.handleOpenLoan)
			private.Post("/loans/{kind}/{id}/deposit", s.handleDeposit)
			private.Post("/loans/{kind}/{id}/withdraw", s.handleWithdraw)
			private.Post("/loans/{kind}/{id}/draw", s.handleDraw)
			private.Post("/loans/{kind}/{id}/repay", s.handleRepay)
			private.Post("/loans/{kind}/{id}/repay-with-collateral", s.handleRepayWithCollateral)
			private.Post("/loans/{kind}/{id}/close", s.handleCloseLoan)
			private.Post("/loans/{kind}/{id}/close-with-collateral", s.handleCloseLoanWithCollateral)
			private.Post("/loans/{kind}/{id}/liquidate", s.handleLiquidateLoan)

			private.Post("/crosschain/reports", s.handleReport)
			private.Post("/crosschain/debt", s.handleCrossDebt)

			private.Post("/admin/rates", s.handleUpdateRate)
			private.Post("/admin/fund", s.handleFund)
			private.Post("/admin/suspend", s.handleSuspend)
			private.Post("/admin/resume", s.handleResume)
			private.Post("/admin/settings", s.handleSettings)
			private.Post("/admin/pynths", s.handleAddPynth)
			private.Delete("/admin/pynths/{key}", s.handleRemovePynth)
		})
	})

	return otelhttp.NewHandler(r, "ledgerd")
}

// observe records request metrics under the matched route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.API().Observe(routePattern(r), r.Method, status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// mutate runs a ledger operation for the authenticated caller and renders its
// result. Every mutating handler goes through here.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(caller crypto.Address) (any, error)) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errMissingToken)
		return
	}
	_, span := telemetry.StartOperation(r.Context(), op, caller.String())
	result, err := fn(caller)
	telemetry.EndOperation(span, err)
	if err != nil {
		status := statusFor(err)
		s.logger.Debug("ledger operation rejected",
			slog.String("operation", op),
			slog.String("caller", caller.String()),
			slog.Int("status", status),
			slog.Any("error", err))
		writeError(w, status, err)
		return
	}
	if result == nil {
		result = map[string]bool{"ok": true}
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(field, value string) (*big.Int, error) {
	v, err := nativecommon.ParseUnits(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return v, nil
}

func optionalAmount(field, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(field, value)
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

func units(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return nativecommon.FormatUnits(v)
}
