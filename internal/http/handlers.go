package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"dividi/internal/core"
	"dividi/internal/services"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// requireUser returns the caller or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := userID(r.Context())
	if id == "" {
		writeError(w, r, services.ErrNotAuthenticated)
		return "", false
	}
	return id, true
}

// handleDashboard answers null to an anonymous caller so clients can
// render an empty state.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Dashboard(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if d == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, newDashboardView(d))
}

// handleListGroups answers an empty list to an anonymous caller.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListGroups(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var ids []string
	for _, gs := range list {
		for _, tx := range gs.Transactions {
			ids = append(ids, tx.OwerID, tx.OweeID)
		}
	}
	names, err := s.svc.DisplayNames(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupSummaryViews(list, names))
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.svc.CreateGroup(r.Context(), uid, sanitizeInput(req.Name), req.SimplifyDebts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGroupView(g))
}

// memberRequest resolves the caller and group of a group-scoped read and
// checks membership.
func (s *Server) memberRequest(w http.ResponseWriter, r *http.Request) (uid, groupID string, ok bool) {
	groupID = mux.Vars(r)["groupID"]
	if uid, ok = requireUser(w, r); !ok {
		return "", "", false
	}
	if _, err := s.svc.CheckMember(r.Context(), uid, groupID); err != nil {
		writeError(w, r, err)
		return "", "", false
	}
	return uid, groupID, true
}

func (s *Server) handleGroupBalances(w http.ResponseWriter, r *http.Request) {
	_, groupID, ok := s.memberRequest(w, r)
	if !ok {
		return
	}
	txs, err := s.svc.GroupBalances(r.Context(), groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids := make([]string, 0, 2*len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.OwerID, tx.OweeID)
	}
	names, err := s.svc.DisplayNames(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionViews(txs, names))
}

func (s *Server) handleNetBalances(w http.ResponseWriter, r *http.Request) {
	_, groupID, ok := s.memberRequest(w, r)
	if !ok {
		return
	}
	net, err := s.svc.NetBalances(r.Context(), groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names, err := s.svc.DisplayNames(r.Context(), net.Users())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newNetBalanceViews(net, names))
}

func (s *Server) handleMyBalance(w http.ResponseWriter, r *http.Request) {
	uid, groupID, ok := s.memberRequest(w, r)
	if !ok {
		return
	}
	amt, err := s.svc.UserBalance(r.Context(), uid, groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var m core.Money
	if amt != nil {
		m = *amt
	}
	writeJSON(w, http.StatusOK, netBalanceView{UserID: uid, BalanceCents: m.Cents, Balance: m.Major()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	groupID := mux.Vars(r)["groupID"]
	data, err := s.svc.ExportGroup(r.Context(), uid, groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "group-"+groupID+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r, defaultActivityLimit, maxActivityLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.svc.Activities(r.Context(), uid, mux.Vars(r)["groupID"], limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newActivityViews(list))
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, badRequestf("user_id is required"))
		return
	}
	role := core.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	m, err := s.svc.AddMember(r.Context(), uid, mux.Vars(r)["groupID"], strings.TrimSpace(req.UserID), role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, memberView{GroupID: m.GroupID, UserID: m.UserID, Role: m.Role})
}

func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := req.toExpense(mux.Vars(r)["groupID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := s.svc.RecordExpense(r.Context(), uid, e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExpenseView(saved))
}

func (s *Server) handleRecordSettlement(w http.ResponseWriter, r *http.Request) {
	s.recordSettlement(w, r, s.svc.RecordSettlement)
}

func (s *Server) handleRecordAdjustment(w http.ResponseWriter, r *http.Request) {
	s.recordSettlement(w, r, s.svc.RecordAdjustment)
}

type settlementRecorder func(ctx context.Context, actorID string, st core.Settlement) (core.Settlement, error)

func (s *Server) recordSettlement(w http.ResponseWriter, r *http.Request, record settlementRecorder) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req settlementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := req.toSettlement(mux.Vars(r)["groupID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := record(r.Context(), uid, st)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSettlementView(saved))
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	g, err := s.svc.ArchiveGroup(r.Context(), uid, mux.Vars(r)["groupID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupView(g))
}

func (s *Server) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	g, err := s.svc.UnarchiveGroup(r.Context(), uid, mux.Vars(r)["groupID"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupView(g))
}
