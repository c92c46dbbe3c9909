// Package httpapi exposes the marketplace core over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/songforge/marketplace/internal/app"
	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/metrics"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/internal/middleware"
	"github.com/songforge/marketplace/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application, log *logger.Logger) *mux.Router {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	// Registered with Use so route templates are resolvable when the
	// observation is recorded.
	r.Use(func(next http.Handler) http.Handler {
		return metrics.InstrumentHandler(next, RoutePath)
	})
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/songs", h.registerSong).Methods(http.MethodPost)
	r.HandleFunc("/songs", h.listSongs).Methods(http.MethodGet)
	r.HandleFunc("/songs/{id:[0-9]+}", h.getSong).Methods(http.MethodGet)
	r.HandleFunc("/songs/{id:[0-9]+}/uri", h.songURI).Methods(http.MethodGet)
	r.HandleFunc("/songs/{id:[0-9]+}/price", h.setPrice).Methods(http.MethodPatch)
	r.HandleFunc("/songs/{id:[0-9]+}/creator", h.reassignCreator).Methods(http.MethodPatch)
	r.HandleFunc("/songs/{id:[0-9]+}/mint", h.mintSong).Methods(http.MethodPost)
	r.HandleFunc("/songs/{id:[0-9]+}/balance/{account}", h.songBalance).Methods(http.MethodGet)
	r.HandleFunc("/mint/batch", h.mintBatch).Methods(http.MethodPost)

	r.HandleFunc("/creators/{account}/songs", h.creatorsSongs).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/balance", h.accountBalance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/deposit", h.deposit).Methods(http.MethodPost)

	r.HandleFunc("/platform", h.platform).Methods(http.MethodGet)
	r.HandleFunc("/platform/fee", h.setFee).Methods(http.MethodPatch)
	r.HandleFunc("/platform/pause", h.pause).Methods(http.MethodPost)
	r.HandleFunc("/platform/unpause", h.unpause).Methods(http.MethodPost)
	r.HandleFunc("/platform/withdraw", h.withdraw).Methods(http.MethodPost)

	r.HandleFunc("/events/ws", h.eventStream).Methods(http.MethodGet)

	return r
}

// RoutePath resolves the mux route template for metrics labels.
func RoutePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return r.URL.Path
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	err := h.app.Store.ReadView(r.Context(), func(v storage.View) error {
		_, err := v.Config(r.Context())
		return err
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) registerSong(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title     string `json:"title"`
		UnitPrice uint64 `json:"unit_price"`
		Capacity  uint64 `json:"capacity"`
		URI       string `json:"uri"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Catalog.Register(r.Context(), payload.Title, payload.UnitPrice, payload.Capacity, payload.URI, caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listSongs(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	songs, err := h.app.Catalog.List(r.Context(), offset, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, songs)
}

func (h *handler) getSong(w http.ResponseWriter, r *http.Request) {
	id, err := songID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Catalog.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) songURI(w http.ResponseWriter, r *http.Request) {
	id, err := songID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	uri, err := h.app.Catalog.URIOf(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

func (h *handler) setPrice(w http.ResponseWriter, r *http.Request) {
	id, err := songID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Price uint64 `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.app.Catalog.SetPrice(r.Context(), id, payload.Price, caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) reassignCreator(w http.ResponseWriter, r *http.Request) {
	id, err := songID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Creator string `json:"creator"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.app.Catalog.ReassignCreator(r.Context(), id, payload.Creator, caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) mintSong(w http.ResponseWriter, r *http.Request) {
	id, err := songID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Quantity uint64 `json:"quantity"`
		Payment  uint64 `json:"payment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Mint.Mint(r.Context(), id, payload.Quantity, payload.Payment, caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) mintBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SongIDs    []uint64 `json:"song_ids"`
		Quantities []uint64 `json:"quantities"`
		Payment    uint64   `json:"payment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Mint.MintBatch(r.Context(), payload.SongIDs, payload.Quantities, payload.Payment, caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) songBalance(w http.ResponseWriter, r *http.Request) {
	id, err := songID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account := mux.Vars(r)["account"]

	var balance uint64
	err = h.app.Store.ReadView(r.Context(), func(v storage.View) error {
		if _, err := v.GetSong(r.Context(), id); err != nil {
			return err
		}
		var err error
		balance, err = v.Ledger().BalanceOf(r.Context(), account, id)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"song_id": id, "account": account, "balance": balance})
}

func (h *handler) creatorsSongs(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	ids, err := h.app.Catalog.CreatorsSongs(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creator": account, "song_ids": ids})
}

func (h *handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	var balance uint64
	err := h.app.Store.ReadView(r.Context(), func(v storage.View) error {
		var err error
		balance, err = v.Bank().Balance(r.Context(), account)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": balance})
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	var payload struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.app.Admin.Deposit(r.Context(), account, payload.Amount, caller(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) platform(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Admin.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	treasury, err := h.app.Admin.TreasuryBalance(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":        cfg.Owner,
		"platform_fee": cfg.PlatformFee,
		"paused":       cfg.Paused,
		"treasury":     treasury,
	})
}

func (h *handler) setFee(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Fee uint64 `json:"fee"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg, err := h.app.Admin.SetPlatformFee(r.Context(), payload.Fee, caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platform_fee": cfg.PlatformFee})
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Admin.Pause(r.Context(), caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": cfg.Paused})
}

func (h *handler) unpause(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Admin.Unpause(r.Context(), caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": cfg.Paused})
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := h.app.Admin.WithdrawFees(r.Context(), caller(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawn": amount})
}

func caller(r *http.Request) string {
	return middleware.CallerAccount(r.Context())
}

func songID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid song id %q", raw)
	}
	return id, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeDomainError maps the marketplace error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrInvalidArgument), errors.Is(err, market.ErrArithmeticOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrSongNotFound):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, market.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, market.ErrCapacityExceeded), errors.Is(err, market.ErrTransferFailed), errors.Is(err, market.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, market.ErrMarketPaused):
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  market.ErrorKind(err),
	})
}
