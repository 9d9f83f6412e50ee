package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"

	"Go2NetGuard/internal/firewall"
	"Go2NetGuard/internal/guard"
	"Go2NetGuard/internal/sink"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// StatusProvider reports the control loop state.
type StatusProvider interface {
	Status() guard.Status
}

// Firewall is the part of the firewall manager the API exposes.
type Firewall interface {
	Offenses() []firewall.OffenseRecord
	Offense(addr netip.Addr) (firewall.OffenseRecord, bool)
	ActiveBlocks() []netip.Addr
	LiveBlocks() ([]netip.Addr, error)
	Unblock(addr netip.Addr) error
	Reconcile() (firewall.ReconcileResult, error)
}

// Handler holds the dependencies for API handlers. Firewall and Querier
// may be nil when enforcement or ClickHouse is disabled.
type Handler struct {
	Status   StatusProvider
	Firewall Firewall
	Querier  sink.Querier
	Metrics  http.Handler
}

// BlocksResponse compares believed and live block state.
type BlocksResponse struct {
	Believed []netip.Addr `json:"believed"`
	Live     []netip.Addr `json:"live"`
}

// NewRouter defines the API routes.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", h.statusHandler).Methods(http.MethodGet)
	api.HandleFunc("/offenders", h.offendersHandler).Methods(http.MethodGet)
	api.HandleFunc("/offenders/{addr}", h.offenderHandler).Methods(http.MethodGet)
	api.HandleFunc("/offenders/{addr}/unblock", h.unblockHandler).Methods(http.MethodPost)
	api.HandleFunc("/blocks", h.blocksHandler).Methods(http.MethodGet)
	api.HandleFunc("/reconcile", h.reconcileHandler).Methods(http.MethodPost)
	api.HandleFunc("/verdicts", h.verdictsHandler).Methods(http.MethodGet)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode API response")
	}
}

func (h *Handler) firewall(w http.ResponseWriter) (Firewall, bool) {
	if h.Firewall == nil {
		http.Error(w, "firewall enforcement is disabled", http.StatusServiceUnavailable)
		return nil, false
	}
	return h.Firewall, true
}

func pathAddr(w http.ResponseWriter, r *http.Request) (netip.Addr, bool) {
	raw := mux.Vars(r)["addr"]
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid address '%s'", raw), http.StatusBadRequest)
		return netip.Addr{}, false
	}
	return addr, true
}

func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Status.Status())
}

func (h *Handler) offendersHandler(w http.ResponseWriter, r *http.Request) {
	fw, ok := h.firewall(w)
	if !ok {
		return
	}
	offenses := fw.Offenses()
	if r.URL.Query().Get("blocked") == "true" {
		blocked := offenses[:0]
		for _, o := range offenses {
			if o.Blocked {
				blocked = append(blocked, o)
			}
		}
		offenses = blocked
	}
	writeJSON(w, http.StatusOK, offenses)
}

func (h *Handler) offenderHandler(w http.ResponseWriter, r *http.Request) {
	fw, ok := h.firewall(w)
	if !ok {
		return
	}
	addr, ok := pathAddr(w, r)
	if !ok {
		return
	}
	rec, found := fw.Offense(addr)
	if !found {
		http.Error(w, fmt.Sprintf("address %s is not tracked", addr), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) unblockHandler(w http.ResponseWriter, r *http.Request) {
	fw, ok := h.firewall(w)
	if !ok {
		return
	}
	addr, ok := pathAddr(w, r)
	if !ok {
		return
	}
	if err := fw.Unblock(addr); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, firewall.ErrNotTracked) {
			status = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("failed to unblock %s: %v", addr, err), status)
		return
	}
	log.Printf("Operator unblocked %s via API", addr)
	rec, _ := fw.Offense(addr)
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) blocksHandler(w http.ResponseWriter, r *http.Request) {
	fw, ok := h.firewall(w)
	if !ok {
		return
	}
	live, err := fw.LiveBlocks()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list live blocks: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, BlocksResponse{Believed: fw.ActiveBlocks(), Live: live})
}

func (h *Handler) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	fw, ok := h.firewall(w)
	if !ok {
		return
	}
	res, err := fw.Reconcile()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to reconcile: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) verdictsHandler(w http.ResponseWriter, r *http.Request) {
	if h.Querier == nil {
		http.Error(w, "verdict store is disabled", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	var src netip.Addr
	if s := q.Get("src"); s != "" {
		var err error
		if src, err = netip.ParseAddr(s); err != nil {
			http.Error(w, fmt.Sprintf("invalid src '%s'", s), http.StatusBadRequest)
			return
		}
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
			http.Error(w, fmt.Sprintf("invalid limit '%s'", l), http.StatusBadRequest)
			return
		}
	}

	verdicts, err := h.Querier.RecentVerdicts(r.Context(), src, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query verdicts: %v", err), http.StatusInternalServerError)
		return
	}
	if verdicts == nil {
		verdicts = []sink.Verdict{}
	}
	writeJSON(w, http.StatusOK, verdicts)
}
