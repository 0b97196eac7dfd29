package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"libraryhub/pkg/circulation"
	"libraryhub/pkg/domain"
	"libraryhub/services/circulation/internal/app"
)

type issueBody struct {
	TitleID  string `json:"titleId"`
	MemberID string `json:"memberId"`
}

type loanIDBody struct {
	LoanID string `json:"loanId"`
}

type titleBody struct {
	Name        string `json:"name"`
	TotalCopies *int   `json:"totalCopies"`
}

type loansResponse struct {
	Loans []app.LoanView `json:"loans"`
	Count int            `json:"count"`
}

type warning struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type returnResponse struct {
	app.LoanView
	Warning *warning `json:"warning,omitempty"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	var body issueBody
	if !decodeJSON(w, r, &body) {
		return
	}
	loan, err := s.app.IssueLoan(r.Context(), app.IssueRequest{
		TitleID:    body.TitleID,
		MemberID:   body.MemberID,
		IssuedByID: caller.ID,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.app.View(r.Context(), loan, s.app.Now()))
}

// handleReturn answers 200 even when the ledger could not be reconciled: the
// return itself committed, so the loan is sent back with a warning.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	var body loanIDBody
	if !decodeJSON(w, r, &body) {
		return
	}
	loan, err := s.app.ReturnLoan(r.Context(), app.ReturnRequest{LoanID: body.LoanID, ActorID: caller.ID})
	resp := returnResponse{}
	switch {
	case err == nil:
	case loan.ID != "":
		resp.Warning = &warning{Error: circulation.MessageOf(err), Code: errorCode(err)}
	default:
		writeAppError(w, err)
		return
	}
	resp.LoanView = s.app.View(r.Context(), loan, s.app.Now())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	var body loanIDBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if !caller.IsStaff() {
		current, err := s.app.GetLoan(r.Context(), body.LoanID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if current.MemberID != caller.ID {
			writeForbidden(w)
			return
		}
	}
	loan, err := s.app.RenewLoan(r.Context(), app.RenewRequest{LoanID: body.LoanID, ActorID: caller.ID})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.View(r.Context(), loan, s.app.Now()))
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request, _ domain.Caller) {
	loans, err := s.app.ListActiveLoans(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.writeLoans(w, r, loans)
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request, _ domain.Caller) {
	loans, err := s.app.ListOverdueLoans(r.Context(), s.app.Now())
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.writeLoans(w, r, loans)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	memberID := httprouter.ParamsFromContext(r.Context()).ByName("memberId")
	if !caller.IsStaff() && memberID != caller.ID {
		writeForbidden(w)
		return
	}
	loans, err := s.app.ListMemberHistory(r.Context(), memberID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.writeLoans(w, r, loans)
}

// handleGetLoan hides other members' loans behind 404 so ids cannot be probed.
func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	loan, err := s.app.GetLoan(r.Context(), httprouter.ParamsFromContext(r.Context()).ByName("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !caller.IsStaff() && loan.MemberID != caller.ID {
		writeAppError(w, circulation.ErrLoanNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.app.View(r.Context(), loan, s.app.Now()))
}

func (s *Server) handleLoanEvents(w http.ResponseWriter, r *http.Request, _ domain.Caller) {
	evts, err := s.app.ListLoanEvents(r.Context(), httprouter.ParamsFromContext(r.Context()).ByName("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts, "count": len(evts)})
}

func (s *Server) handleOverdueReport(w http.ResponseWriter, r *http.Request, _ domain.Caller) {
	report, err := s.app.ExportOverdueReport(r.Context(), s.app.Now())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleGetTitle(w http.ResponseWriter, r *http.Request, _ domain.Caller) {
	title, err := s.app.GetTitle(r.Context(), httprouter.ParamsFromContext(r.Context()).ByName("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, title)
}

func (s *Server) handleUpsertTitle(w http.ResponseWriter, r *http.Request) {
	var body titleBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.TotalCopies == nil {
		writeAppError(w, circulation.Invalid("totalCopies is required"))
		return
	}
	title, created, err := s.app.UpsertTitle(r.Context(), app.TitleInput{
		ID:          httprouter.ParamsFromContext(r.Context()).ByName("id"),
		Name:        body.Name,
		TotalCopies: *body.TotalCopies,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, title)
}

func (s *Server) writeLoans(w http.ResponseWriter, r *http.Request, loans []domain.LoanRecord) {
	views := s.app.Views(r.Context(), loans, s.app.Now())
	writeJSON(w, http.StatusOK, loansResponse{Loans: views, Count: len(views)})
}
