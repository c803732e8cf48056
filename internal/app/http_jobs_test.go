package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"fieldsync/api/internal/cache"
	"fieldsync/api/internal/erp"
	"fieldsync/api/internal/record"
	"fieldsync/api/internal/store"
	syncer "fieldsync/api/internal/sync"
)

// fakeERP serves a fixed record slice page by page and records mutations.
// It implements both the page source and the mutation gateway.
type fakeERP struct {
	mu        sync.Mutex
	records   []record.RawRecord
	fetches   int
	failOn    map[int]error
	mutations []string
	mutateErr error
}

func (f *fakeERP) FetchPage(ctx context.Context, operation string, page, pageSize int) (record.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err, ok := f.failOn[page]; ok {
		return record.Page{}, err
	}
	from := page * pageSize
	if from >= len(f.records) {
		return record.Page{}, nil
	}
	to := from + pageSize
	if to > len(f.records) {
		to = len(f.records)
	}
	return record.Page{Records: f.records[from:to]}, nil
}

func (f *fakeERP) Mutate(ctx context.Context, operation string, data any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutateErr != nil {
		return "", f.mutateErr
	}
	f.mutations = append(f.mutations, operation)
	return "ok", nil
}

func (f *fakeERP) SubmitShipment(ctx context.Context, jobID string, lines []int) (string, error) {
	return f.Mutate(ctx, "submitMaintainance", lines)
}

func (f *fakeERP) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []store.AuditEntry
}

func (f *fakeAudit) Insert(ctx context.Context, entry store.AuditEntry) (store.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeAudit) ListByDocument(ctx context.Context, documentKey string, limit int) ([]store.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AuditEntry
	for _, entry := range f.entries {
		if entry.DocumentKey == documentKey {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeAudit) Ping(ctx context.Context) error { return nil }

func newTestServer(t *testing.T, remote *fakeERP) (http.Handler, *fakeAudit, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	detailCache := cache.NewDetailCacheWithClient(client, time.Minute)
	t.Cleanup(func() { detailCache.Close() })

	audit := &fakeAudit{}
	sets := syncer.NewManager(remote, 10, 100)
	service := New(remote, sets, detailCache, audit)
	return NewHTTPServer(service, "*").Handler(), audit, mr
}

func maintLine(key, equipment, status, scheduled string) record.RawRecord {
	return record.RawRecord{
		DocumentNumber: key,
		Equipment:      equipment,
		Status:         status,
		ScheduledDate:  scheduled,
	}
}

func getJSON(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rr.Code, body
}

func postJSON(t *testing.T, handler http.Handler, method, path, payload string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tech-7")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rr.Code, body
}

func TestListJobsConsolidates(t *testing.T) {
	remote := &fakeERP{records: []record.RawRecord{
		maintLine("EQJOB62", "Main spring", "Not Started", "11/01/2024"),
		maintLine("EQJOB62", "Battery", "Not Started", "11/01/2024"),
		maintLine("EQJOB62", "Gear train", "Started", "11/01/2024"),
		maintLine("EQJOB7", "Pendulum", "Started", "11/15/2024"),
	}}
	handler, _, _ := newTestServer(t, remote)

	status, body := getJSON(t, handler, "/api/jobs")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["totalCount"] != float64(2) {
		t.Errorf("expected 2 consolidated documents, got %v", body["totalCount"])
	}

	jobs := body["jobs"].([]any)
	// Default sort is document number descending.
	first := jobs[0].(map[string]any)
	if first[record.FieldDocumentNumber] != "EQJOB62" {
		t.Fatalf("unexpected first job: %v", first)
	}
	if first[record.FieldStatus] != "Mixed Status" {
		t.Errorf("expected mixed status sentinel, got %v", first[record.FieldStatus])
	}
	if first["sourceCount"] != float64(3) {
		t.Errorf("expected sourceCount 3, got %v", first["sourceCount"])
	}
	if first[record.FieldEquipment] != "Main spring, Battery, Gear train" {
		t.Errorf("expected joined equipment, got %v", first[record.FieldEquipment])
	}
}

func TestListJobsFilterSortPaginate(t *testing.T) {
	var records []record.RawRecord
	for i := 1; i <= 25; i++ {
		records = append(records, maintLine(fmt.Sprintf("EQJOB%d", i), "Main spring", "Started", "11/01/2024"))
	}
	remote := &fakeERP{records: records}
	handler, _, _ := newTestServer(t, remote)

	params := url.Values{}
	params.Set("sortField", record.FieldDocumentNumber)
	params.Set("sortDir", "asc")
	params.Set("page", "2")
	params.Set("pageSize", "10")

	status, body := getJSON(t, handler, "/api/jobs?"+params.Encode())
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["totalCount"] != float64(25) {
		t.Errorf("expected totalCount 25, got %v", body["totalCount"])
	}
	jobs := body["jobs"].([]any)
	if len(jobs) != 5 {
		t.Fatalf("expected 5 jobs on the last page, got %d", len(jobs))
	}
	if jobs[0].(map[string]any)[record.FieldDocumentNumber] != "EQJOB21" {
		t.Errorf("expected numeric-suffix order, got %v", jobs[0])
	}

	params.Set("status", "Not Started")
	params.Set("page", "0")
	status, body = getJSON(t, handler, "/api/jobs?"+params.Encode())
	if status != http.StatusOK || body["totalCount"] != float64(0) {
		t.Errorf("expected empty filtered result, got %v", body["totalCount"])
	}
}

func TestListRawServesLineItems(t *testing.T) {
	remote := &fakeERP{records: []record.RawRecord{
		maintLine("EQJOB62", "Main spring", "Started", "11/01/2024"),
		maintLine("EQJOB62", "Battery", "Started", "11/01/2024"),
	}}
	handler, _, _ := newTestServer(t, remote)

	status, body := getJSON(t, handler, "/api/jobs/raw")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["totalCount"] != float64(2) {
		t.Errorf("raw view must not consolidate, got %v", body["totalCount"])
	}
}

func TestListJobsPartialOnTransportError(t *testing.T) {
	var records []record.RawRecord
	for i := 1; i <= 15; i++ {
		records = append(records, maintLine(fmt.Sprintf("EQJOB%d", i), "A", "Started", "11/01/2024"))
	}
	remote := &fakeERP{
		records: records,
		failOn:  map[int]error{1: fmt.Errorf("%w: connection reset", erp.ErrRemote)},
	}
	handler, _, _ := newTestServer(t, remote)

	status, body := getJSON(t, handler, "/api/jobs?pageSize=20")
	if status != http.StatusOK {
		t.Fatalf("partial load must still serve, got %d", status)
	}
	if body["totalCount"] != float64(10) {
		t.Errorf("expected the 10 loaded records, got %v", body["totalCount"])
	}
	if body["syncError"] == nil || body["syncError"] == "" {
		t.Errorf("expected syncError to be surfaced")
	}
}

func TestListJobsFailsWhenNothingLoaded(t *testing.T) {
	remote := &fakeERP{
		failOn: map[int]error{0: fmt.Errorf("%w: connection refused", erp.ErrRemote)},
	}
	handler, _, _ := newTestServer(t, remote)

	status, body := getJSON(t, handler, "/api/jobs")
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502 when nothing loaded, got %d: %v", status, body)
	}
	if body["code"] != "REMOTE_ERROR" {
		t.Errorf("expected REMOTE_ERROR, got %v", body["code"])
	}
}

func TestJobDetailAndCacheLifecycle(t *testing.T) {
	remote := &fakeERP{records: []record.RawRecord{
		maintLine("EQJOB62", "Main spring", "Started", "11/01/2024"),
		maintLine("EQJOB62", "Battery", "Started", "11/01/2024"),
	}}
	handler, audit, mr := newTestServer(t, remote)

	status, body := getJSON(t, handler, "/api/jobs/EQJOB62")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	document := body["document"].(map[string]any)
	if document["sourceCount"] != float64(2) {
		t.Errorf("expected sourceCount 2, got %v", document["sourceCount"])
	}
	if lines := body["lines"].([]any); len(lines) != 2 {
		t.Errorf("expected 2 raw lines, got %d", len(lines))
	}
	if !mr.Exists("detail:EQJOB62") {
		t.Errorf("detail was not cached")
	}

	status, _ = postJSON(t, handler, http.MethodPost, "/api/jobs/EQJOB62/perform",
		`{"completionDate":"11/20/2024"}`)
	if status != http.StatusOK {
		t.Fatalf("perform failed with %d", status)
	}
	if mr.Exists("detail:EQJOB62") {
		t.Errorf("mutation must invalidate the detail cache")
	}

	entries, _ := audit.ListByDocument(context.Background(), "EQJOB62", 10)
	if len(entries) != 1 || entries[0].Operation != "performMaintainance" {
		t.Errorf("expected one perform audit entry, got %+v", entries)
	}
	if entries[0].Actor != "tech-7" {
		t.Errorf("expected actor from header, got %q", entries[0].Actor)
	}
}

func TestJobDetailNotFound(t *testing.T) {
	remote := &fakeERP{records: []record.RawRecord{
		maintLine("EQJOB1", "A", "Started", "11/01/2024"),
	}}
	handler, _, _ := newTestServer(t, remote)

	status, body := getJSON(t, handler, "/api/jobs/EQJOB999")
	if status != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %v", status, body)
	}
}

func TestMutationInvalidatesWorkingSet(t *testing.T) {
	remote := &fakeERP{records: []record.RawRecord{
		maintLine("EQJOB1", "A", "Started", "11/01/2024"),
	}}
	handler, _, _ := newTestServer(t, remote)

	getJSON(t, handler, "/api/jobs")
	settled := remote.fetchCount()

	status, _ := postJSON(t, handler, http.MethodPut, "/api/jobs/EQJOB1", `{"item":"Clock assembly"}`)
	if status != http.StatusOK {
		t.Fatalf("update failed with %d", status)
	}

	getJSON(t, handler, "/api/jobs")
	if remote.fetchCount() <= settled {
		t.Errorf("list after mutation must refetch from the source")
	}
}

func TestCreateJobValidation(t *testing.T) {
	remote := &fakeERP{}
	handler, _, _ := newTestServer(t, remote)

	status, body := postJSON(t, handler, http.MethodPost, "/api/jobs", `{"item":"Clock assembly"}`)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %v", status, body)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", body["code"])
	}
	if len(remote.mutations) != 0 {
		t.Errorf("invalid payload must not reach the gateway")
	}

	status, _ = postJSON(t, handler, http.MethodPost, "/api/jobs",
		`{"customer":"Acme Clocks","item":"Clock assembly","scheduledDate":"11/01/2024"}`)
	if status != http.StatusOK {
		t.Errorf("expected valid create to pass, got %d", status)
	}
}

func TestMutationRejectedSurfacesRemoteMessage(t *testing.T) {
	remote := &fakeERP{
		records:   []record.RawRecord{maintLine("EQJOB1", "A", "Started", "11/01/2024")},
		mutateErr: &erp.MutationError{Message: "Job order is locked"},
	}
	handler, audit, _ := newTestServer(t, remote)

	status, body := postJSON(t, handler, http.MethodPost, "/api/jobs/EQJOB1/reassign", `{"technician":"tech-9"}`)
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %v", status, body)
	}
	if body["error"] != "Job order is locked" {
		t.Errorf("expected the remote message, got %v", body["error"])
	}
	if entries, _ := audit.ListByDocument(context.Background(), "EQJOB1", 10); len(entries) != 0 {
		t.Errorf("rejected mutation must not be audited")
	}
}

func TestShipmentPost(t *testing.T) {
	remote := &fakeERP{records: []record.RawRecord{
		maintLine("EQJOB62", "A", "Started", "11/01/2024"),
	}}
	handler, _, _ := newTestServer(t, remote)

	status, _ := postJSON(t, handler, http.MethodPost, "/api/jobs/EQJOB62/shipment", `{"lines":[1,3]}`)
	if status != http.StatusOK {
		t.Fatalf("shipment failed with %d", status)
	}

	status, body := postJSON(t, handler, http.MethodPost, "/api/jobs/EQJOB62/shipment", `{"lines":[]}`)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for empty lines, got %d: %v", status, body)
	}
}

func TestRefreshRebuildsWorkingSet(t *testing.T) {
	remote := &fakeERP{records: []record.RawRecord{
		maintLine("EQJOB1", "A", "Started", "11/01/2024"),
	}}
	handler, _, _ := newTestServer(t, remote)

	getJSON(t, handler, "/api/jobs")
	settled := remote.fetchCount()

	status, _ := postJSON(t, handler, http.MethodPost, "/api/jobs/refresh", ``)
	if status != http.StatusOK {
		t.Fatalf("refresh failed with %d", status)
	}
	if remote.fetchCount() <= settled {
		t.Errorf("refresh must refetch from page zero")
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler, _, _ := newTestServer(t, &fakeERP{})

	status, body := getJSON(t, handler, "/api/health")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if ok, exists := body["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	handler, _, mr := newTestServer(t, &fakeERP{})

	status, body := getJSON(t, handler, "/api/ready")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}

	mr.Close()
	status, body = getJSON(t, handler, "/api/ready")
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with redis down, got %d: %v", status, body)
	}
}
