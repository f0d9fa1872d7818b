package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmstore"
)

// registerControlRoutes mounts the unix control socket's single route: a
// WAL-inspection route backed directly by store, so `chorusd wal inspect`
// can read a height's WAL without the engine exposing its internals any
// other way. The TCP debug listener does not mount it.
func registerControlRoutes(r *mux.Router, walStore tmstore.WALStore) {
	r.HandleFunc("/wal/{height}", handleWALInspect(walStore)).Methods(http.MethodGet)
}

// walEntryView is the JSON shape returned by /wal/{height}: close enough to
// tmstore.WALEntry to be useful for an operator, without requiring the
// client to link against tmcodec to decode anything.
type walEntryView struct {
	Kind string `json:"kind"`

	ProposalRound      *tmconsensus.Round  `json:"proposal_round,omitempty"`
	VoteType           string              `json:"vote_type,omitempty"`
	VoteRound          *tmconsensus.Round  `json:"vote_round,omitempty"`
	VoteValueID        tmconsensus.ValueID `json:"vote_value_id,omitempty"`
	CertificateKind    string              `json:"certificate_kind,omitempty"`
	CertificateRound   *tmconsensus.Round  `json:"certificate_round,omitempty"`
	CertificateVoteCnt int                 `json:"certificate_vote_count,omitempty"`
}

func viewWALEntry(e tmstore.WALEntry) walEntryView {
	switch e.Kind {
	case tmstore.WALEntryProposal:
		r := e.Proposal.Round
		return walEntryView{Kind: "proposal", ProposalRound: &r}
	case tmstore.WALEntryVote:
		r := e.Vote.Round
		return walEntryView{Kind: "vote", VoteType: e.Vote.Type.String(), VoteRound: &r, VoteValueID: e.Vote.ValueID}
	case tmstore.WALEntryCertificate:
		r := e.Certificate.Round
		return walEntryView{
			Kind: "certificate", CertificateKind: e.Certificate.Kind.String(),
			CertificateRound: &r, CertificateVoteCnt: len(e.Certificate.Votes),
		}
	default:
		return walEntryView{Kind: "scheduled_timeout"}
	}
}

func handleWALInspect(walStore tmstore.WALStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		heightStr := mux.Vars(req)["height"]
		var raw uint64
		if _, err := fmt.Sscanf(heightStr, "%d", &raw); err != nil {
			http.Error(w, "invalid height", http.StatusBadRequest)
			return
		}
		height := tmconsensus.Height(raw)

		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		entries, err := walStore.Replay(ctx, height)
		if err != nil {
			http.Error(w, "failed to replay wal: "+err.Error(), http.StatusInternalServerError)
			return
		}

		views := make([]walEntryView, len(entries))
		for i, e := range entries {
			views[i] = viewWALEntry(e)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
