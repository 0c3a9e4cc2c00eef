package main

import (
	"errors"
	"net/http"

	"github.com/vaultbrain/vaultbrain/internal/proposals"
)

func (a *app) handleListProposals(w http.ResponseWriter, r *http.Request) {
	status := proposals.Status(r.URL.Query().Get("status"))
	list := a.proposals.List(status)
	writeJSON(w, http.StatusOK, map[string]any{"proposals": list, "count": len(list)})
}

func (a *app) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := a.proposals.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *app) handleApproveProposal(w http.ResponseWriter, r *http.Request) {
	p, err := a.proposals.Approve(r.PathValue("id"))
	if err != nil {
		writeProposalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *app) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	p, err := a.proposals.Reject(r.PathValue("id"))
	if err != nil {
		writeProposalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeProposalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proposals.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, proposals.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
