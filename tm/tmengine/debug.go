package tmengine

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmengine/internal/tmmux"
	"github.com/chorus-consensus/chorus/tm/tmround"
)

// Status is a read-only snapshot of the engine's current position, safe to
// read from any goroutine: it is only ever written by the goroutine running
// Run, under statusMu, right after the driver processes an input.
type Status struct {
	Height tmconsensus.Height `json:"height"`
	Round  tmconsensus.Round  `json:"round"`
	Step   tmround.Step       `json:"step"`

	Decided bool `json:"decided"`

	// EvidenceCount is the number of equivocation records the vote keeper
	// has accumulated for the current height, per spec.md §4.2's "evidence
	// is accumulated, never re-credited" rule.
	EvidenceCount int `json:"evidence_count"`
}

func (e *Engine) recordStatus(d *tmmux.Driver) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	e.status = Status{
		Height:        d.Height,
		Round:         d.CurrentRound,
		Step:          d.Round.Step,
		Decided:       d.Decided,
		EvidenceCount: len(d.VK.Evidence()),
	}
}

// Status returns the most recently recorded snapshot of engine progress.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// debugHandler serves read-only engine status over HTTP, mirroring the
// debug-route shape used elsewhere in this codebase for operator-facing
// inspection endpoints: a small struct holding just what the routes need,
// registered onto a caller-owned *mux.Router so it composes with whatever
// other routes a host process serves.
type debugHandler struct {
	log *slog.Logger
	e   *Engine
}

// RegisterDebugRoutes adds a read-only status endpoint at /debug/status to
// r, exposing the current height/round/step and vote-keeper evidence count
// for a running Engine. It never exposes anything that could affect
// consensus: no handler here can inject a vote, proposal, or timeout.
func RegisterDebugRoutes(log *slog.Logger, e *Engine, r *mux.Router) {
	h := debugHandler{log: log, e: e}
	r.HandleFunc("/debug/status", h.handleStatus).Methods(http.MethodGet)
}

func (h debugHandler) handleStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.e.Status()); err != nil {
		h.log.Warn("Failed to encode status response", "err", err)
	}
}
