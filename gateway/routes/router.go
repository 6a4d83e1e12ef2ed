package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rico/core"
	"rico/gateway/middleware"
	"rico/native/rico"
	"rico/storage/eventlog"
)

// SaleReader is the read side of the sale runtime.
type SaleReader interface {
	CurrentBlock() uint64
	Sale() (*rico.Sale, error)
	Totals() (*rico.Totals, error)
	AvailableProjectETH() (*big.Int, error)
	TokenSupply() (*big.Int, error)
	Participants() ([][20]byte, error)
	Participant(addr [20]byte) (*rico.Participant, error)
	TokenBalance(addr [20]byte) (*big.Int, error)
	LockedTokens(addr [20]byte) (*big.Int, error)
	UnlockedBalance(addr [20]byte) (*big.Int, error)
}

// EventReader lists persisted sale events.
type EventReader interface {
	List(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error)
}

// Config wires the query API. Events may be nil when the event log is off.
type Config struct {
	Sale        SaleReader
	Events      EventReader
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	ServiceName string
}

type api struct {
	sale   SaleReader
	events EventReader
	logger *slog.Logger
}

// New builds the read-only query API of a sale.
func New(cfg Config) (http.Handler, error) {
	if cfg.Sale == nil {
		return nil, errors.New("routes: sale reader required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := cfg.ServiceName
	if service == "" {
		service = "rico-gateway"
	}
	a := &api{sale: cfg.Sale, events: cfg.Events, logger: logger.With("component", "gateway")}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}
	r.Route("/v1", func(v1 chi.Router) {
		v1.With(limit("sale")).Get("/sale", a.getSale)
		v1.With(limit("sale")).Get("/totals", a.getTotals)
		v1.With(limit("participants")).Get("/participants", a.listParticipants)
		v1.With(limit("participants")).Get("/participants/{address}", a.getParticipant)
		v1.With(limit("events")).Get("/events", a.listEvents)
	})
	return otelhttp.NewHandler(r, service), nil
}

type stageView struct {
	ID         int    `json:"id"`
	StartBlock uint64 `json:"startBlock"`
	EndBlock   uint64 `json:"endBlock"`
	TokenPrice string `json:"tokenPrice"`
}

type saleView struct {
	Address             string      `json:"address"`
	Deployer            string      `json:"deployer"`
	WhitelistController string      `json:"whitelistController"`
	ProjectWallet       string      `json:"projectWallet"`
	InitBlock           uint64      `json:"initBlock"`
	CurrentBlock        uint64      `json:"currentBlock"`
	CurrentStage        *int        `json:"currentStage,omitempty"`
	Stages              []stageView `json:"stages"`
}

func (a *api) getSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.sale.Sale()
	if err != nil {
		a.fail(w, err)
		return
	}
	block := a.sale.CurrentBlock()
	view := saleView{
		Address:             hex(sale.Address),
		Deployer:            hex(sale.Roles.Deployer),
		WhitelistController: hex(sale.Roles.WhitelistController),
		ProjectWallet:       hex(sale.Roles.ProjectWallet),
		InitBlock:           sale.InitBlock,
		CurrentBlock:        block,
	}
	if stage, err := sale.Schedule.StageAtBlock(block); err == nil {
		view.CurrentStage = &stage
	}
	for id, st := range sale.Schedule.Stages {
		view.Stages = append(view.Stages, stageView{ID: id, StartBlock: st.StartBlock, EndBlock: st.EndBlock, TokenPrice: st.TokenPrice.String()})
	}
	writeJSON(w, http.StatusOK, view)
}

type totalsView struct {
	TotalReceivedETH     string `json:"totalReceivedETH"`
	CommittedETH         string `json:"committedETH"`
	WithdrawnETH         string `json:"withdrawnETH"`
	ReturnedETH          string `json:"returnedETH"`
	ProjectWithdrawnETH  string `json:"projectWithdrawnETH"`
	ProjectAvailableETH  string `json:"projectAvailableETH"`
	ProjectWithdrawCount uint64 `json:"projectWithdrawCount"`
	Contributors         uint64 `json:"contributors"`
	TokenSupply          string `json:"tokenSupply"`
}

func (a *api) getTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := a.sale.Totals()
	if err != nil {
		a.fail(w, err)
		return
	}
	available, err := a.sale.AvailableProjectETH()
	if err != nil {
		a.fail(w, err)
		return
	}
	supply, err := a.sale.TokenSupply()
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totalsView{
		TotalReceivedETH:     totals.TotalReceivedETH.String(),
		CommittedETH:         totals.CommittedETH.String(),
		WithdrawnETH:         totals.WithdrawnETH.String(),
		ReturnedETH:          totals.ReturnedETH.String(),
		ProjectWithdrawnETH:  totals.ProjectWithdrawnETH.String(),
		ProjectAvailableETH:  available.String(),
		ProjectWithdrawCount: totals.ProjectWithdrawCount,
		Contributors:         totals.ContributorCount,
		TokenSupply:          supply.String(),
	})
}

func (a *api) listParticipants(w http.ResponseWriter, r *http.Request) {
	addrs, err := a.sale.Participants()
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, hex(addr))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"participants": out})
}

type participantView struct {
	Address        string `json:"address"`
	Whitelisted    bool   `json:"whitelisted"`
	Contributions  uint64 `json:"contributions"`
	PendingETH     string `json:"pendingETH"`
	CommittedETH   string `json:"committedETH"`
	WithdrawnETH   string `json:"withdrawnETH"`
	BoughtTokens   string `json:"boughtTokens"`
	ReturnedTokens string `json:"returnedTokens"`
	TokenBalance   string `json:"tokenBalance"`
	LockedTokens   string `json:"lockedTokens"`
	UnlockedTokens string `json:"unlockedTokens"`
}

func (a *api) getParticipant(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	addr := [20]byte(common.HexToAddress(raw))
	p, err := a.sale.Participant(addr)
	if err != nil {
		a.fail(w, err)
		return
	}
	balance, err := a.sale.TokenBalance(addr)
	if err != nil {
		a.fail(w, err)
		return
	}
	locked, err := a.sale.LockedTokens(addr)
	if err != nil {
		a.fail(w, err)
		return
	}
	unlocked, err := a.sale.UnlockedBalance(addr)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participantView{
		Address:        hex(addr),
		Whitelisted:    p.Whitelisted,
		Contributions:  p.ContributionsCount,
		PendingETH:     p.PendingETH().String(),
		CommittedETH:   p.Totals.CommittedETH.String(),
		WithdrawnETH:   p.Totals.WithdrawnETH.String(),
		BoughtTokens:   p.Totals.BoughtTokens.String(),
		ReturnedTokens: p.Totals.ReturnedTokens.String(),
		TokenBalance:   balance.String(),
		LockedTokens:   locked.String(),
		UnlockedTokens: unlocked.String(),
	})
}

type eventView struct {
	CallID     string            `json:"callId,omitempty"`
	Block      uint64            `json:"block"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, http.StatusNotFound, errors.New("event log disabled"))
		return
	}
	q := r.URL.Query()
	filter := eventlog.Filter{
		Type:        q.Get("type"),
		Participant: q.Get("participant"),
		CallID:      q.Get("call"),
		Limit:       100,
	}
	for key, dst := range map[string]*uint64{"from": &filter.FromBlock, "to": &filter.ToBlock} {
		if v := q.Get(key); v != "" {
			parsed, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid "+key+" block"))
				return
			}
			*dst = parsed
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be within 1..1000"))
			return
		}
		filter.Limit = limit
	}
	records, err := a.events.List(r.Context(), filter)
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.Decode()
		if err != nil {
			a.fail(w, err)
			return
		}
		out = append(out, eventView{CallID: rec.CallID, Block: rec.Block, Type: rec.Type, Attributes: attrs})
	}
	writeJSON(w, http.StatusOK, map[string][]eventView{"events": out})
}

func (a *api) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rico.ErrUnknownParticipant):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, core.ErrNotDeployed), errors.Is(err, rico.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		a.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func hex(addr [20]byte) string { return common.Address(addr).Hex() }
