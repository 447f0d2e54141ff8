package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mintgate/chain"
	"mintgate/handlers"
	"mintgate/logger"
	"mintgate/models"
	"mintgate/repository"
	"mintgate/routers"
)

type mockRepo struct {
	mu     sync.Mutex
	nodes  map[string]*models.NodeRecord
	events []*models.Event
}

func newMockRepo() *mockRepo {
	return &mockRepo{nodes: make(map[string]*models.NodeRecord)}
}

func (m *mockRepo) stored(id string) (*models.NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	// return a copy to simulate DB retrieval
	copy := *n
	return &copy, nil
}

func (m *mockRepo) GetAllNodes() ([]*models.NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*models.NodeRecord, 0, len(m.nodes))
	for _, n := range m.nodes {
		copy := *n
		res = append(res, &copy)
	}
	return res, nil
}

func (m *mockRepo) GetEvents(nodeID string) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*models.Event
	for _, ev := range m.events {
		if ev.Node == nodeID {
			copy := *ev
			res = append(res, &copy)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (m *mockRepo) LastEventSeq() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last uint64
	for _, ev := range m.events {
		if ev.Seq > last {
			last = ev.Seq
		}
	}
	return last, nil
}

func (m *mockRepo) Commit(nodes []*models.NodeRecord, events []*models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		copy := *n
		m.nodes[n.ID] = &copy
	}
	m.events = append(m.events, events...)
	return nil
}

func testServer() (*mux.Router, *mockRepo, *chain.ManualClock) {
	logger.Logger = zap.NewNop()

	mockRepo := newMockRepo()
	var repoInterface repository.NodeRepositoryInterface = mockRepo
	clock := chain.NewManualClock(1_000)
	c := chain.NewChain(repoInterface, clock, 0)
	handler := handlers.NewHandler(c)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)
	return router, mockRepo, clock
}

func send(router *mux.Router, method, path, principal string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if principal != "" {
		req.Header.Set(handlers.PrincipalHeader, principal)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, res *httptest.ResponseRecorder, want int) {
	t.Helper()
	if res.Code != want {
		t.Fatalf("expected status %d, got %d, body: %s", want, res.Code, res.Body.String())
	}
}

// setupCeilingChain creates cap -> supply with alice allowed to mint on cap.
func setupCeilingChain(t *testing.T, router *mux.Router) {
	t.Helper()
	expectStatus(t, send(router, http.MethodPost, "/nodes/ledger", "", map[string]interface{}{
		"id": "supply", "admin": "ops", "minters": []string{"cap"},
	}), http.StatusCreated)
	expectStatus(t, send(router, http.MethodPost, "/nodes/ceiling", "", map[string]interface{}{
		"id": "cap", "admin": "ops", "downstream": "supply",
		"minters": []string{"alice"}, "pausers": []string{"ops"},
		"ceiling": 100, "valid_from": 1_000, "valid_until": 5_000,
	}), http.StatusCreated)
}

func TestCreateLedger_Success(t *testing.T) {
	router, mockRepo, _ := testServer()

	res := send(router, http.MethodPost, "/nodes/ledger", "", map[string]interface{}{
		"id": "supply", "admin": "ops",
	})
	expectStatus(t, res, http.StatusCreated)

	got, err := mockRepo.stored("supply")
	if err != nil {
		t.Fatalf("expected node stored, got error: %v", err)
	}
	if got.Kind != models.KindLedger {
		t.Fatalf("expected kind ledger, got %s", got.Kind)
	}
}

func TestCreateNode_Duplicate(t *testing.T) {
	router, _, _ := testServer()
	body := map[string]interface{}{"id": "supply", "admin": "ops"}

	expectStatus(t, send(router, http.MethodPost, "/nodes/ledger", "", body), http.StatusCreated)
	expectStatus(t, send(router, http.MethodPost, "/nodes/ledger", "", body), http.StatusConflict)
}

func TestCreateNode_InvalidPayload(t *testing.T) {
	router, _, _ := testServer()

	req := httptest.NewRequest(http.MethodPost, "/nodes/window", bytes.NewReader([]byte("{not json")))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	expectStatus(t, res, http.StatusBadRequest)

	res = send(router, http.MethodPost, "/nodes/window", "", map[string]interface{}{
		"id": "rate", "admin": "ops", "downstream": "supply", "limit": 10,
	})
	expectStatus(t, res, http.StatusBadRequest)
	if reason := decodeBody(t, res)["reason"]; reason != "zero_window_length" {
		t.Fatalf("expected reason zero_window_length, got %v", reason)
	}
}

func TestMint_ThroughCeiling(t *testing.T) {
	router, _, _ := testServer()
	setupCeilingChain(t, router)

	res := send(router, http.MethodPost, "/nodes/cap/mint", "alice", map[string]interface{}{
		"recipient": "bob", "amount": 40,
	})
	expectStatus(t, res, http.StatusOK)

	res = send(router, http.MethodGet, "/nodes/supply/balances/bob", "", nil)
	expectStatus(t, res, http.StatusOK)
	if balance := decodeBody(t, res)["balance"]; balance != float64(40) {
		t.Fatalf("expected balance 40, got %v", balance)
	}

	res = send(router, http.MethodPost, "/nodes/cap/mint", "alice", map[string]interface{}{
		"recipient": "bob", "amount": 61,
	})
	expectStatus(t, res, http.StatusConflict)
	if reason := decodeBody(t, res)["reason"]; reason != "ceiling_exceeded" {
		t.Fatalf("expected reason ceiling_exceeded, got %v", reason)
	}
}

func TestMint_Rejections(t *testing.T) {
	router, _, _ := testServer()
	setupCeilingChain(t, router)
	body := map[string]interface{}{"recipient": "bob", "amount": 1}

	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "", body), http.StatusBadRequest)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "mallory", body), http.StatusForbidden)
	expectStatus(t, send(router, http.MethodPost, "/nodes/ghost/mint", "alice", body), http.StatusNotFound)

	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/pause", "ops", nil), http.StatusOK)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "alice", body), http.StatusLocked)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/pause", "ops", nil), http.StatusLocked)

	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/close", "ops", nil), http.StatusOK)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "alice", body), http.StatusGone)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/unpause", "ops", nil), http.StatusGone)
}

func TestDelayedMint_Lifecycle(t *testing.T) {
	router, _, clock := testServer()
	expectStatus(t, send(router, http.MethodPost, "/nodes/ledger", "", map[string]interface{}{
		"id": "supply", "admin": "ops", "minters": []string{"queue"},
	}), http.StatusCreated)
	expectStatus(t, send(router, http.MethodPost, "/nodes/delay", "", map[string]interface{}{
		"id": "queue", "admin": "ops", "downstream": "supply",
		"minters": []string{"alice"}, "vetoers": []string{"vic"}, "delay": 60,
	}), http.StatusCreated)

	res := send(router, http.MethodPost, "/nodes/queue/mint", "alice", map[string]interface{}{
		"recipient": "bob", "amount": 25,
	})
	expectStatus(t, res, http.StatusAccepted)
	if id := decodeBody(t, res)["request_id"]; id != float64(1) {
		t.Fatalf("expected request id 1, got %v", id)
	}

	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/1/execute", "anyone", nil), http.StatusConflict)
	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/9/execute", "anyone", nil), http.StatusNotFound)
	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/abc/execute", "anyone", nil), http.StatusBadRequest)

	clock.Advance(60)
	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/1/execute", "anyone", nil), http.StatusOK)

	res = send(router, http.MethodGet, "/nodes/queue/requests/1", "", nil)
	expectStatus(t, res, http.StatusOK)
	if status := decodeBody(t, res)["status"]; status != string(models.RequestExecuted) {
		t.Fatalf("expected EXECUTED, got %v", status)
	}

	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/1/veto", "vic", nil), http.StatusConflict)

	res = send(router, http.MethodGet, "/nodes/supply/balances/bob", "", nil)
	if balance := decodeBody(t, res)["balance"]; balance != float64(25) {
		t.Fatalf("expected balance 25, got %v", balance)
	}
}

func TestVetoRequest(t *testing.T) {
	router, _, _ := testServer()
	expectStatus(t, send(router, http.MethodPost, "/nodes/delay", "", map[string]interface{}{
		"id": "queue", "admin": "ops", "downstream": "supply",
		"minters": []string{"alice"}, "vetoers": []string{"vic"}, "delay": 60,
	}), http.StatusCreated)
	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/mint", "alice", map[string]interface{}{
		"recipient": "bob", "amount": 5,
	}), http.StatusAccepted)

	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/1/veto", "alice", nil), http.StatusForbidden)
	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/1/veto", "vic", nil), http.StatusOK)
	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/1/veto", "vic", nil), http.StatusConflict)

	res := send(router, http.MethodGet, "/nodes/queue/requests", "", nil)
	expectStatus(t, res, http.StatusOK)
	reqs, ok := decodeBody(t, res)["requests"].([]interface{})
	if !ok || len(reqs) != 1 {
		t.Fatalf("expected one request, got %s", res.Body.String())
	}
}

func TestWindow_UpdateAndAvailable(t *testing.T) {
	router, _, _ := testServer()
	expectStatus(t, send(router, http.MethodPost, "/nodes/window", "", map[string]interface{}{
		"id": "rate", "admin": "ops", "downstream": "supply", "limit": 10, "window_length": 60,
	}), http.StatusCreated)

	expectStatus(t, send(router, http.MethodPut, "/nodes/rate/limit", "intruder", map[string]interface{}{"limit": 99}), http.StatusForbidden)
	expectStatus(t, send(router, http.MethodPut, "/nodes/rate/limit", "ops", map[string]interface{}{"limit": 30}), http.StatusOK)
	expectStatus(t, send(router, http.MethodPut, "/nodes/rate/window-length", "ops", map[string]interface{}{"window_length": 0}), http.StatusBadRequest)

	res := send(router, http.MethodGet, "/nodes/rate", "", nil)
	expectStatus(t, res, http.StatusOK)
	if available := decodeBody(t, res)["available"]; available != float64(30) {
		t.Fatalf("expected available 30, got %v", available)
	}

	expectStatus(t, send(router, http.MethodPut, "/nodes/rate/delay", "ops", map[string]interface{}{"delay": 5}), http.StatusBadRequest)
}

func TestRoles_GrantRevoke(t *testing.T) {
	router, _, _ := testServer()
	setupCeilingChain(t, router)
	mint := map[string]interface{}{"recipient": "bob", "amount": 1}

	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/roles/grant", "ops",
		map[string]interface{}{"role": "SUPERUSER", "principal": "bob"}), http.StatusBadRequest)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/roles/grant", "alice",
		map[string]interface{}{"role": "MINTER", "principal": "bob"}), http.StatusForbidden)

	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/roles/grant", "ops",
		map[string]interface{}{"role": "MINTER", "principal": "bob"}), http.StatusOK)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "bob", mint), http.StatusOK)

	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/roles/revoke", "ops",
		map[string]interface{}{"role": "MINTER", "principal": "bob"}), http.StatusOK)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "bob", mint), http.StatusForbidden)
}

func TestUpdateDownstream(t *testing.T) {
	router, _, _ := testServer()
	setupCeilingChain(t, router)

	expectStatus(t, send(router, http.MethodPut, "/nodes/cap/downstream", "ops",
		map[string]interface{}{"downstream": ""}), http.StatusBadRequest)
	expectStatus(t, send(router, http.MethodPut, "/nodes/supply/downstream", "ops",
		map[string]interface{}{"downstream": "cap"}), http.StatusBadRequest)

	res := send(router, http.MethodPut, "/nodes/cap/downstream", "ops", map[string]interface{}{"downstream": "reserve"})
	expectStatus(t, res, http.StatusOK)
	node, ok := decodeBody(t, res)["node"].(map[string]interface{})
	if !ok || node["downstream"] != "reserve" {
		t.Fatalf("expected downstream reserve, got %s", res.Body.String())
	}

	// the new target does not exist yet
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "alice",
		map[string]interface{}{"recipient": "bob", "amount": 1}), http.StatusNotFound)
}

func TestListNodesAndEvents(t *testing.T) {
	router, _, _ := testServer()
	setupCeilingChain(t, router)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "alice",
		map[string]interface{}{"recipient": "bob", "amount": 3}), http.StatusOK)

	res := send(router, http.MethodGet, "/nodes", "", nil)
	expectStatus(t, res, http.StatusOK)
	nodes, ok := decodeBody(t, res)["nodes"].([]interface{})
	if !ok || len(nodes) != 2 {
		t.Fatalf("expected two nodes, got %s", res.Body.String())
	}

	res = send(router, http.MethodGet, "/nodes/cap/events", "", nil)
	expectStatus(t, res, http.StatusOK)
	var body struct {
		Events []models.Event `json:"events"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(body.Events) != 2 || body.Events[1].Kind != models.EventMinted || body.Events[1].Amount != 3 {
		t.Fatalf("unexpected events: %+v", body.Events)
	}

	expectStatus(t, send(router, http.MethodGet, "/nodes/ghost/events", "", nil), http.StatusNotFound)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _, _ := testServer()

	expectStatus(t, send(router, http.MethodGet, "/health", "", nil), http.StatusOK)
	expectStatus(t, send(router, http.MethodGet, "/metrics", "", nil), http.StatusOK)
}

func TestGetNode_ReportsHeadroom(t *testing.T) {
	router, _, _ := testServer()
	setupCeilingChain(t, router)
	expectStatus(t, send(router, http.MethodPost, "/nodes/cap/mint", "alice", map[string]interface{}{
		"recipient": "bob", "amount": 30,
	}), http.StatusOK)

	res := send(router, http.MethodGet, "/nodes/cap", "", nil)
	expectStatus(t, res, http.StatusOK)
	if remaining := decodeBody(t, res)["remaining"]; remaining != float64(70) {
		t.Fatalf("expected remaining 70, got %v", remaining)
	}

	res = send(router, http.MethodGet, "/nodes/supply", "", nil)
	expectStatus(t, res, http.StatusOK)
	if supply := decodeBody(t, res)["total_supply"]; supply != float64(30) {
		t.Fatalf("expected total_supply 30, got %v", supply)
	}
}

func TestMint_QueuedBehindWindow(t *testing.T) {
	router, _, _ := testServer()
	expectStatus(t, send(router, http.MethodPost, "/nodes/ledger", "", map[string]interface{}{
		"id": "supply", "admin": "ops", "minters": []string{"queue"},
	}), http.StatusCreated)
	expectStatus(t, send(router, http.MethodPost, "/nodes/delay", "", map[string]interface{}{
		"id": "queue", "admin": "ops", "downstream": "supply",
		"minters": []string{"rate"}, "delay": 60,
	}), http.StatusCreated)
	expectStatus(t, send(router, http.MethodPost, "/nodes/window", "", map[string]interface{}{
		"id": "rate", "admin": "ops", "downstream": "queue",
		"minters": []string{"alice"}, "limit": 100, "window_length": 3_600,
	}), http.StatusCreated)

	res := send(router, http.MethodPost, "/nodes/rate/mint", "alice", map[string]interface{}{
		"recipient": "bob", "amount": 20,
	})
	expectStatus(t, res, http.StatusAccepted)
	body := decodeBody(t, res)
	if body["node"] != "queue" || body["request_id"] != float64(1) {
		t.Fatalf("expected request 1 on queue, got %s", res.Body.String())
	}
}

func TestListRequests_PendingFilter(t *testing.T) {
	router, _, _ := testServer()
	expectStatus(t, send(router, http.MethodPost, "/nodes/delay", "", map[string]interface{}{
		"id": "queue", "admin": "ops", "downstream": "supply",
		"minters": []string{"alice"}, "vetoers": []string{"vic"}, "delay": 60,
	}), http.StatusCreated)
	for i := 0; i < 2; i++ {
		expectStatus(t, send(router, http.MethodPost, "/nodes/queue/mint", "alice", map[string]interface{}{
			"recipient": "bob", "amount": 5,
		}), http.StatusAccepted)
	}
	expectStatus(t, send(router, http.MethodPost, "/nodes/queue/requests/1/veto", "vic", nil), http.StatusOK)

	res := send(router, http.MethodGet, "/nodes/queue/requests?status=pending", "", nil)
	expectStatus(t, res, http.StatusOK)
	reqs, ok := decodeBody(t, res)["requests"].([]interface{})
	if !ok || len(reqs) != 1 {
		t.Fatalf("expected one pending request, got %s", res.Body.String())
	}
	if id := reqs[0].(map[string]interface{})["id"]; id != float64(2) {
		t.Fatalf("expected pending request 2, got %v", id)
	}

	res = send(router, http.MethodGet, "/nodes/queue/requests", "", nil)
	reqs, _ = decodeBody(t, res)["requests"].([]interface{})
	if len(reqs) != 2 {
		t.Fatalf("expected two requests, got %s", res.Body.String())
	}

	expectStatus(t, send(router, http.MethodGet, "/nodes/queue/requests?status=bogus", "", nil), http.StatusBadRequest)
}
