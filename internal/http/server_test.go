package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"dividi/internal/balance"
	"dividi/internal/core"
	"dividi/internal/ledger"
	"dividi/internal/ledger/memory"
	applog "dividi/internal/log"
	"dividi/internal/middleware/ratelimit"
	"dividi/internal/services"
)

const testSecret = "test-secret"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type serverOpts struct {
	secret string
	limit  ratelimit.Config
	ready  func(context.Context) error
}

func newTestServer(t *testing.T, o serverOpts) *Server {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for _, u := range []core.User{{ID: "A", Name: "Alice"}, {ID: "B", Name: "Bob"}, {ID: "C", Name: "Carol"}} {
		if err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	svc := services.NewBalanceService(store, services.Options{Now: func() time.Time { return fixedNow }})

	if o.limit.RequestsPerSecond == 0 {
		o.limit = ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000}
	}
	srv := NewServer(":0", svc, Options{
		Logger:    applog.New(applog.Config{Handler: slog.NewTextHandler(io.Discard, nil)}),
		JWTSecret: o.secret,
		RateLimit: o.limit,
		Ready:     o.ready,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// do sends a request as user (dev header) and returns the recorder.
func do(t *testing.T, srv *Server, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set(DevUserHeader, user)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body=%s", rec.Code, want, rec.Body.String())
	}
}

// setupTrip creates a simplified group of A, B and C with a dinner of
// 9.00 split three ways paid by A and a taxi of 3.00 split by B and C,
// paid by B.
func setupTrip(t *testing.T, srv *Server) string {
	t.Helper()
	rec := do(t, srv, "POST", "/api/groups", "A", map[string]any{"name": "Trip", "simplify_debts": true})
	expectStatus(t, rec, http.StatusCreated)
	gid := decode[groupView](t, rec).ID

	for _, u := range []string{"B", "C"} {
		expectStatus(t, do(t, srv, "POST", "/api/groups/"+gid+"/members", "A", map[string]string{"user_id": u}), http.StatusCreated)
	}

	rec = do(t, srv, "POST", "/api/groups/"+gid+"/expenses", "A", map[string]any{
		"description": "Dinner", "amount": "9.00", "category": "food", "date": "2026-02-20",
		"split_among": []string{"A", "B", "C"},
	})
	expectStatus(t, rec, http.StatusCreated)
	dinner := decode[expenseView](t, rec)
	if dinner.PayerID != "A" || dinner.Category != core.CategoryFood || dinner.Date != "2026-02-20" || len(dinner.Shares) != 3 {
		t.Fatalf("dinner = %+v", dinner)
	}

	rec = do(t, srv, "POST", "/api/groups/"+gid+"/expenses", "B", map[string]any{
		"description": "Taxi", "amount": "3,00",
		"shares": []map[string]string{{"user_id": "B", "amount": "1.50"}, {"user_id": "C", "amount": "1.50"}},
	})
	expectStatus(t, rec, http.StatusCreated)
	return gid
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		expectStatus(t, do(t, srv, "GET", path, "", nil), http.StatusOK)
	}

	down := newTestServer(t, serverOpts{ready: func(context.Context) error { return errors.New("db down") }})
	expectStatus(t, do(t, down, "GET", "/readyz", "", nil), http.StatusServiceUnavailable)
}

func TestGroupLifecycle(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	gid := setupTrip(t, srv)
	base := "/api/groups/" + gid

	rec := do(t, srv, "GET", base+"/balances", "A", nil)
	expectStatus(t, rec, http.StatusOK)
	txs := decode[[]transactionView](t, rec)
	want := []transactionView{
		{FromUserID: "C", FromName: "Carol", ToUserID: "A", ToName: "Alice", AmountCents: 450, Amount: "4.50"},
		{FromUserID: "B", FromName: "Bob", ToUserID: "A", ToName: "Alice", AmountCents: 150, Amount: "1.50"},
	}
	if !reflect.DeepEqual(txs, want) {
		t.Fatalf("balances = %+v, want %+v", txs, want)
	}

	rec = do(t, srv, "GET", base+"/balances/net", "B", nil)
	expectStatus(t, rec, http.StatusOK)
	net := decode[[]netBalanceView](t, rec)
	if len(net) != 3 || net[0].UserID != "A" || net[0].BalanceCents != 600 || net[2].Name != "Carol" || net[2].BalanceCents != -450 {
		t.Fatalf("net = %+v", net)
	}

	rec = do(t, srv, "GET", base+"/me", "B", nil)
	expectStatus(t, rec, http.StatusOK)
	if me := decode[netBalanceView](t, rec); me.BalanceCents != -150 || me.Balance != "-1.50" {
		t.Fatalf("me = %+v", me)
	}

	expectStatus(t, do(t, srv, "POST", base+"/archive", "A", nil), http.StatusConflict)

	expectStatus(t, do(t, srv, "POST", base+"/settlements", "C", map[string]string{"receiver_id": "A", "amount": "4.50"}), http.StatusCreated)
	rec = do(t, srv, "POST", base+"/settlements", "B", map[string]string{"receiver_id": "A", "amount": "1.50", "payer_id": "C"})
	expectStatus(t, rec, http.StatusCreated)
	if st := decode[settlementView](t, rec); st.PayerID != "B" || st.Kind != core.SettlementPayment {
		t.Fatalf("settlement = %+v, payer must be the caller", st)
	}

	rec = do(t, srv, "GET", base+"/balances", "A", nil)
	expectStatus(t, rec, http.StatusOK)
	if txs := decode[[]transactionView](t, rec); len(txs) != 0 {
		t.Fatalf("balances after settling = %+v", txs)
	}

	expectStatus(t, do(t, srv, "POST", base+"/archive", "B", nil), http.StatusForbidden)
	rec = do(t, srv, "POST", base+"/archive", "A", nil)
	expectStatus(t, rec, http.StatusOK)
	if g := decode[groupView](t, rec); !g.Archived || g.ArchivedAt == nil {
		t.Fatalf("group = %+v", g)
	}

	expectStatus(t, do(t, srv, "POST", base+"/expenses", "A", map[string]any{
		"description": "Late", "amount": "1", "split_among": []string{"A"},
	}), http.StatusConflict)

	rec = do(t, srv, "POST", base+"/unarchive", "A", nil)
	expectStatus(t, rec, http.StatusOK)
	if g := decode[groupView](t, rec); g.Archived {
		t.Fatalf("group still archived: %+v", g)
	}

	rec = do(t, srv, "GET", base+"/activities?limit=2", "C", nil)
	expectStatus(t, rec, http.StatusOK)
	if acts := decode[[]activityView](t, rec); len(acts) != 2 {
		t.Fatalf("activities = %+v", acts)
	}
	expectStatus(t, do(t, srv, "GET", base+"/activities?limit=zero", "C", nil), http.StatusBadRequest)
}

func TestExport(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	gid := setupTrip(t, srv)

	rec := do(t, srv, "GET", "/api/groups/"+gid+"/export", "C", nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "group-"+gid+".csv") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	body := rec.Body.String()
	for _, section := range []string{"--- EXPENSES ---", "--- SETTLEMENTS ---", "--- CURRENT BALANCES ---", "Dinner"} {
		if !strings.Contains(body, section) {
			t.Errorf("export missing %q:\n%s", section, body)
		}
	}

	expectStatus(t, do(t, srv, "GET", "/api/groups/"+gid+"/export", "D", nil), http.StatusForbidden)
}

func TestListGroupsAndDashboard(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	gid := setupTrip(t, srv)

	rec := do(t, srv, "GET", "/api/groups", "C", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decode[[]groupSummaryView](t, rec)
	if len(list) != 1 || list[0].Group.ID != gid || list[0].Role != core.RoleMember || list[0].MyBalanceCents != -450 || list[0].Settled {
		t.Fatalf("groups = %+v", list)
	}
	if len(list[0].Transactions) != 2 || list[0].Transactions[0].FromName != "Carol" {
		t.Fatalf("transactions = %+v", list[0].Transactions)
	}

	rec = do(t, srv, "GET", "/api/dashboard", "A", nil)
	expectStatus(t, rec, http.StatusOK)
	d := decode[dashboardView](t, rec)
	if d.GroupCount != 1 || d.TotalOwedCents != 600 || d.TotalOweCents != 0 || d.NetBalance != "6.00" {
		t.Fatalf("dashboard = %+v", d)
	}
	if len(d.TheyOweMe) != 2 || len(d.IOweThem) != 0 {
		t.Fatalf("counterparties = %+v / %+v", d.TheyOweMe, d.IOweThem)
	}

}

func TestAnonymousReadsAreEmpty(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	setupTrip(t, srv)

	rec := do(t, srv, "GET", "/api/dashboard", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != "null" {
		t.Fatalf("anonymous dashboard = %s, want null", body)
	}

	rec = do(t, srv, "GET", "/api/groups", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("anonymous groups = %s, want []", body)
	}

	// Writes still need a caller.
	expectStatus(t, do(t, srv, "POST", "/api/groups", "", map[string]any{"name": "x"}), http.StatusUnauthorized)
}

func TestRecordExpenseErrors(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	gid := setupTrip(t, srv)
	path := "/api/groups/" + gid + "/expenses"

	tests := []struct {
		name string
		user string
		path string
		body any
		want int
	}{
		{"anonymous", "", path, map[string]any{"description": "x", "amount": "1", "split_among": []string{"A"}}, http.StatusUnauthorized},
		{"outsider", "D", path, map[string]any{"description": "x", "amount": "1", "split_among": []string{"D"}}, http.StatusForbidden},
		{"unknown group", "A", "/api/groups/nope/expenses", map[string]any{"description": "x", "amount": "1", "split_among": []string{"A"}}, http.StatusNotFound},
		{"malformed json", "A", path, `{"description":`, http.StatusBadRequest},
		{"unknown field", "A", path, map[string]any{"description": "x", "amount": "1", "split_among": []string{"A"}, "currency": "EUR"}, http.StatusBadRequest},
		{"bad date", "A", path, map[string]any{"description": "x", "amount": "1", "date": "20/02/2026", "split_among": []string{"A"}}, http.StatusBadRequest},
		{"shares and split", "A", path, map[string]any{"description": "x", "amount": "1", "split_among": []string{"A"}, "shares": []map[string]string{{"user_id": "A", "amount": "1"}}}, http.StatusBadRequest},
		{"bad amount", "A", path, map[string]any{"description": "x", "amount": "-5", "split_among": []string{"A"}}, http.StatusUnprocessableEntity},
		{"no shares", "A", path, map[string]any{"description": "x", "amount": "1"}, http.StatusUnprocessableEntity},
		{"sum mismatch", "A", path, map[string]any{"description": "x", "amount": "2", "shares": []map[string]string{{"user_id": "A", "amount": "1"}}}, http.StatusUnprocessableEntity},
		{"non-member share", "A", path, map[string]any{"description": "x", "amount": "1", "split_among": []string{"D"}}, http.StatusUnprocessableEntity},
		{"bad category", "A", path, map[string]any{"description": "x", "amount": "1", "category": "pets", "split_among": []string{"A"}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, "POST", tt.path, tt.user, tt.body)
			expectStatus(t, rec, tt.want)
			if e := decode[errorResponse](t, rec); e.Error == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestRecordAdjustment(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	gid := setupTrip(t, srv)

	rec := do(t, srv, "POST", "/api/groups/"+gid+"/adjustments", "A",
		map[string]string{"payer_id": "B", "receiver_id": "A", "amount": "1.50"})
	expectStatus(t, rec, http.StatusCreated)
	if st := decode[settlementView](t, rec); st.Kind != core.SettlementAdjustment || st.PayerID != "B" {
		t.Fatalf("adjustment = %+v", st)
	}

	expectStatus(t, do(t, srv, "POST", "/api/groups/"+gid+"/adjustments", "A",
		map[string]string{"payer_id": "B", "receiver_id": "B", "amount": "1"}), http.StatusUnprocessableEntity)

	rec = do(t, srv, "GET", "/api/groups/"+gid+"/me", "B", nil)
	expectStatus(t, rec, http.StatusOK)
	if me := decode[netBalanceView](t, rec); me.BalanceCents != 0 {
		t.Fatalf("B balance after adjustment = %+v", me)
	}
}

func TestAddMemberErrors(t *testing.T) {
	srv := newTestServer(t, serverOpts{})
	gid := setupTrip(t, srv)
	path := "/api/groups/" + gid + "/members"
	// D becomes a known user on its first request.
	expectStatus(t, do(t, srv, "GET", "/api/groups", "D", nil), http.StatusOK)

	expectStatus(t, do(t, srv, "POST", path, "A", map[string]string{}), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "POST", path, "A", map[string]string{"user_id": "B"}), http.StatusConflict)
	expectStatus(t, do(t, srv, "POST", path, "A", map[string]string{"user_id": "ghost"}), http.StatusNotFound)
	expectStatus(t, do(t, srv, "POST", path, "A", map[string]string{"user_id": "D", "role": "owner"}), http.StatusUnprocessableEntity)
	expectStatus(t, do(t, srv, "POST", path, "B", map[string]string{"user_id": "D"}), http.StatusForbidden)

	rec := do(t, srv, "POST", path, "A", map[string]string{"user_id": "D", "role": "admin"})
	expectStatus(t, rec, http.StatusCreated)
	if m := decode[memberView](t, rec); m.Role != core.RoleAdmin {
		t.Fatalf("member = %+v", m)
	}
}

func TestJWTAuthentication(t *testing.T) {
	srv := newTestServer(t, serverOpts{secret: testSecret})

	send := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/groups", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		req.Header.Set(DevUserHeader, "A")
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)
		return rec
	}

	// The dev header is ignored once a secret is set.
	expectStatus(t, do(t, srv, "POST", "/api/groups", "A", map[string]any{"name": "x"}), http.StatusUnauthorized)
	expectStatus(t, send("Basic abc"), http.StatusUnauthorized)
	expectStatus(t, send("Bearer not.a.token"), http.StatusUnauthorized)

	forged, err := SignToken([]byte("other-secret"), core.User{ID: "A"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, send("Bearer "+forged), http.StatusUnauthorized)

	expired, err := SignToken([]byte(testSecret), core.User{ID: "A"}, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, send("Bearer "+expired), http.StatusUnauthorized)

	token, err := SignToken([]byte(testSecret), core.User{ID: "E", Name: "Erin", Email: "erin@example.com"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec := send("Bearer " + token)
	expectStatus(t, rec, http.StatusOK)

	// The token user was synced, so it can now be added to a group.
	req := httptest.NewRequest("POST", "/api/groups", strings.NewReader(`{"name":"Flat"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)
	gid := decode[groupView](t, rec).ID

	req = httptest.NewRequest("GET", "/api/groups/"+gid+"/balances/net", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, serverOpts{limit: ratelimit.Config{RequestsPerSecond: 0.01, Burst: 2}})

	for i := 0; i < 2; i++ {
		expectStatus(t, do(t, srv, "GET", "/api/groups", "A", nil), http.StatusOK)
	}
	rec := do(t, srv, "GET", "/api/groups", "A", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Health checks are not rate limited.
	expectStatus(t, do(t, srv, "GET", "/healthz", "", nil), http.StatusOK)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequestf("bad"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", services.ErrNotAuthenticated), http.StatusUnauthorized},
		{services.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("get group: %w", ledger.ErrNotFound), http.StatusNotFound},
		{ledger.ErrConflict, http.StatusConflict},
		{services.ErrGroupArchived, http.StatusConflict},
		{balance.ErrUnsettledBalances, http.StatusConflict},
		{fmt.Errorf("%w: X", services.ErrNotMember), http.StatusUnprocessableEntity},
		{fmt.Errorf("save expense: %w", core.ErrShareSumMismatch), http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSplitEqually(t *testing.T) {
	got := splitEqually(core.Money{Cents: 1000}, []string{"A", "B", "C"})
	want := []core.ExpenseShare{
		{UserID: "A", Amount: core.Money{Cents: 334}},
		{UserID: "B", Amount: core.Money{Cents: 333}},
		{UserID: "C", Amount: core.Money{Cents: 333}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitEqually = %+v, want %+v", got, want)
	}
}
