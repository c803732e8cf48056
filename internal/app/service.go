package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"fieldsync/api/internal/consolidate"
	"fieldsync/api/internal/query"
	"fieldsync/api/internal/record"
	"fieldsync/api/internal/store"
	syncer "fieldsync/api/internal/sync"
)

// Mutation operation names understood by the remote endpoint.
const (
	opCreate   = "createMaintainance"
	opUpdate   = "updateMaintainance"
	opPerform  = "performMaintainance"
	opReassign = "reassignMaintainance"
)

// Gateway is the mutation surface of the ERP client.
type Gateway interface {
	Mutate(ctx context.Context, operation string, data any) (string, error)
	SubmitShipment(ctx context.Context, jobID string, lines []int) (string, error)
}

// DetailCache is the per-document cache surface. May be nil-free: the
// service always has one, tests pass a miniredis-backed instance.
type DetailCache interface {
	Get(ctx context.Context, documentKey string, target any) (bool, error)
	Put(ctx context.Context, documentKey string, value any) error
	Invalidate(ctx context.Context, documentKey string) error
	Ping(ctx context.Context) error
}

// AuditLog records accepted mutations.
type AuditLog interface {
	Insert(ctx context.Context, entry store.AuditEntry) (store.AuditEntry, error)
	ListByDocument(ctx context.Context, documentKey string, limit int) ([]store.AuditEntry, error)
	Ping(ctx context.Context) error
}

type Service struct {
	gateway Gateway
	sets    *syncer.Manager
	cache   DetailCache
	audit   AuditLog
}

func New(gateway Gateway, sets *syncer.Manager, cache DetailCache, audit AuditLog) *Service {
	return &Service{gateway: gateway, sets: sets, cache: cache, audit: audit}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.audit.Ping(ctx)
}

func (s *Service) PingCache(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// ListInput carries the client-side filter, sort and page window for a
// list read.
type ListInput struct {
	DocumentNumber string
	Equipment      string
	Customer       string
	Status         string
	DateStart      string
	DateEnd        string
	SortField      string
	SortDescending bool
	Page           int
	PageSize       int
}

func (in ListInput) filter() query.Filter {
	return query.Filter{
		Contains: map[string]string{
			record.FieldDocumentNumber: in.DocumentNumber,
			record.FieldEquipment:      in.Equipment,
			record.FieldCustomer:       in.Customer,
		},
		Equals: map[string]string{
			record.FieldStatus: in.Status,
		},
		DateField: record.FieldScheduledDate,
		DateStart: in.DateStart,
		DateEnd:   in.DateEnd,
	}
}

func (in ListInput) sort() query.Sort {
	field := in.SortField
	if field == "" {
		// Newest job orders first by default.
		return query.Sort{Field: record.FieldDocumentNumber, Descending: true}
	}
	return query.Sort{Field: field, Descending: in.SortDescending}
}

type ListResult struct {
	Jobs       []consolidate.Document `json:"jobs"`
	TotalCount int                    `json:"totalCount"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"pageSize"`
	HasMore    bool                   `json:"hasMore"`
	Syncing    bool                   `json:"syncing"`
	SyncError  string                 `json:"syncError,omitempty"`
}

type RawListResult struct {
	Records    []record.RawRecord `json:"records"`
	TotalCount int                `json:"totalCount"`
	Page       int                `json:"page"`
	PageSize   int                `json:"pageSize"`
	HasMore    bool               `json:"hasMore"`
	Syncing    bool               `json:"syncing"`
	SyncError  string             `json:"syncError,omitempty"`
}

// ListJobs serves a consolidated document list: sync to exhaustion, merge
// line items per document, then filter, sort and slice the page window.
// A transport failure mid-sync keeps whatever loaded; the partial list is
// returned with the error message attached so the client can offer retry.
func (s *Service) ListJobs(ctx context.Context, operation string, in ListInput) (ListResult, error) {
	snap, syncErr, err := s.synced(ctx, operation)
	if err != nil {
		return ListResult{}, err
	}

	documents := consolidate.Consolidate(snap.Records)
	documents = query.Select(documents, in.filter())
	documents = query.Order(documents, in.sort())
	window, total := query.Window(documents, in.Page, in.PageSize)

	return ListResult{
		Jobs:       window,
		TotalCount: total,
		Page:       in.Page,
		PageSize:   in.PageSize,
		HasMore:    snap.HasMore,
		Syncing:    snap.Syncing,
		SyncError:  syncErr,
	}, nil
}

// ListRaw serves the unconsolidated working set for raw-view screens.
func (s *Service) ListRaw(ctx context.Context, operation string, in ListInput) (RawListResult, error) {
	snap, syncErr, err := s.synced(ctx, operation)
	if err != nil {
		return RawListResult{}, err
	}

	records := query.Select(snap.Records, in.filter())
	records = query.Order(records, in.sort())
	window, total := query.Window(records, in.Page, in.PageSize)

	return RawListResult{
		Records:    window,
		TotalCount: total,
		Page:       in.Page,
		PageSize:   in.PageSize,
		HasMore:    snap.HasMore,
		Syncing:    snap.Syncing,
		SyncError:  syncErr,
	}, nil
}

// synced drives the accumulator for an operation and returns its snapshot.
// Only a sync failure with nothing loaded at all is a hard error.
func (s *Service) synced(ctx context.Context, operation string) (syncer.Snapshot, string, error) {
	acc := s.sets.Get(operation)
	syncErr := acc.Sync(ctx)
	snap := acc.Snapshot()
	if syncErr != nil && len(snap.Records) == 0 {
		return syncer.Snapshot{}, "", syncErr
	}
	if syncErr != nil {
		return snap, syncErr.Error(), nil
	}
	return snap, "", nil
}

// JobDetail is the consolidated document plus its raw source lines.
type JobDetail struct {
	Document consolidate.Document `json:"document"`
	Lines    []record.RawRecord   `json:"lines"`
}

// GetJob returns one document's detail, served from the Redis cache when
// warm. Cache read/write failures degrade to a direct read.
func (s *Service) GetJob(ctx context.Context, operation, documentKey string) (JobDetail, error) {
	var cached JobDetail
	hit, err := s.cache.Get(ctx, documentKey, &cached)
	if err != nil {
		log.Printf("app: detail cache read for %s: %v", documentKey, err)
	}
	if hit {
		return cached, nil
	}

	snap, _, err := s.synced(ctx, operation)
	if err != nil {
		return JobDetail{}, err
	}

	for _, document := range consolidate.Consolidate(snap.Records) {
		if document.Key() != documentKey {
			continue
		}
		detail := JobDetail{Document: document, Lines: document.Sources}
		if err := s.cache.Put(ctx, documentKey, detail); err != nil {
			log.Printf("app: detail cache write for %s: %v", documentKey, err)
		}
		return detail, nil
	}
	return JobDetail{}, domainError(http.StatusNotFound, "NOT_FOUND", "Job order not found", nil)
}

// Refresh is pull-to-refresh: discard the working set and rebuild it.
func (s *Service) Refresh(ctx context.Context, operation string) error {
	acc := s.sets.Get(operation)
	acc.Reset()
	if err := acc.Sync(ctx); err != nil {
		if len(acc.Snapshot().Records) == 0 {
			return err
		}
		// Partial refresh still replaced the set; surface nothing fatal.
		log.Printf("app: refresh %s completed partially: %v", operation, err)
	}
	return nil
}

type CreateJobInput struct {
	Customer      string `json:"customer"`
	Item          string `json:"item"`
	Equipment     string `json:"equipment"`
	ScheduledDate string `json:"scheduledDate"`
	Technician    string `json:"technician"`
}

func (in CreateJobInput) validate() error {
	var missing []string
	if strings.TrimSpace(in.Customer) == "" {
		missing = append(missing, "customer")
	}
	if strings.TrimSpace(in.Item) == "" {
		missing = append(missing, "item")
	}
	if strings.TrimSpace(in.ScheduledDate) == "" {
		missing = append(missing, "scheduledDate")
	} else if _, err := time.Parse("01/02/2006", in.ScheduledDate); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scheduledDate must be MM/DD/YYYY", nil)
	}
	if len(missing) > 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "missing required fields", missing)
	}
	return nil
}

func (in CreateJobInput) remoteFields() map[string]any {
	return map[string]any{
		record.FieldCustomer:      in.Customer,
		record.FieldItem:          in.Item,
		record.FieldEquipment:     in.Equipment,
		record.FieldScheduledDate: in.ScheduledDate,
		record.FieldTechnician:    in.Technician,
	}
}

// CreateJob creates a job order remotely. No optimistic local write: the
// list only shows the new order after the invalidated set is refetched.
func (s *Service) CreateJob(ctx context.Context, in CreateJobInput, actor string) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	message, err := s.gateway.Mutate(ctx, opCreate, in.remoteFields())
	if err != nil {
		return "", err
	}
	s.recordMutation(ctx, opCreate, "", in, message, actor)
	s.sets.InvalidateAll()
	return message, nil
}

type UpdateJobInput struct {
	Item          string `json:"item"`
	Equipment     string `json:"equipment"`
	ScheduledDate string `json:"scheduledDate"`
}

// UpdateJob updates fields of an existing job order.
func (s *Service) UpdateJob(ctx context.Context, documentKey string, in UpdateJobInput, actor string) (string, error) {
	if in.ScheduledDate != "" {
		if _, err := time.Parse("01/02/2006", in.ScheduledDate); err != nil {
			return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scheduledDate must be MM/DD/YYYY", nil)
		}
	}
	fields := map[string]any{record.FieldDocumentNumber: documentKey}
	if in.Item != "" {
		fields[record.FieldItem] = in.Item
	}
	if in.Equipment != "" {
		fields[record.FieldEquipment] = in.Equipment
	}
	if in.ScheduledDate != "" {
		fields[record.FieldScheduledDate] = in.ScheduledDate
	}
	message, err := s.gateway.Mutate(ctx, opUpdate, fields)
	if err != nil {
		return "", err
	}
	s.afterMutation(ctx, opUpdate, documentKey, in, message, actor)
	return message, nil
}

type PerformJobInput struct {
	CompletionDate string `json:"completionDate"`
	Notes          string `json:"notes"`
}

// PerformJob marks a job order performed.
func (s *Service) PerformJob(ctx context.Context, documentKey string, in PerformJobInput, actor string) (string, error) {
	if strings.TrimSpace(in.CompletionDate) == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "completionDate is required", nil)
	}
	if _, err := time.Parse("01/02/2006", in.CompletionDate); err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "completionDate must be MM/DD/YYYY", nil)
	}
	message, err := s.gateway.Mutate(ctx, opPerform, map[string]any{
		record.FieldDocumentNumber: documentKey,
		record.FieldCompletionDate: in.CompletionDate,
		"Notes":                    in.Notes,
	})
	if err != nil {
		return "", err
	}
	s.afterMutation(ctx, opPerform, documentKey, in, message, actor)
	return message, nil
}

type ReassignJobInput struct {
	Technician string `json:"technician"`
}

// ReassignJob hands a job order to another technician.
func (s *Service) ReassignJob(ctx context.Context, documentKey string, in ReassignJobInput, actor string) (string, error) {
	if strings.TrimSpace(in.Technician) == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "technician is required", nil)
	}
	message, err := s.gateway.Mutate(ctx, opReassign, map[string]any{
		record.FieldDocumentNumber: documentKey,
		record.FieldTechnician:     in.Technician,
	})
	if err != nil {
		return "", err
	}
	s.afterMutation(ctx, opReassign, documentKey, in, message, actor)
	return message, nil
}

type ShipmentInput struct {
	Lines []int `json:"lines"`
}

// PostShipment posts shipment lines for a job using the flat body shape.
func (s *Service) PostShipment(ctx context.Context, documentKey string, in ShipmentInput, actor string) (string, error) {
	if len(in.Lines) == 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "lines must not be empty", nil)
	}
	message, err := s.gateway.SubmitShipment(ctx, documentKey, in.Lines)
	if err != nil {
		return "", err
	}
	s.afterMutation(ctx, "submitMaintainance", documentKey, in, message, actor)
	return message, nil
}

// AuditTrail lists recorded mutations for one document.
func (s *Service) AuditTrail(ctx context.Context, documentKey string, limit int) ([]store.AuditEntry, error) {
	return s.audit.ListByDocument(ctx, documentKey, limit)
}

// afterMutation performs the post-write bookkeeping: audit row, working
// set invalidation, detail cache invalidation.
func (s *Service) afterMutation(ctx context.Context, operation, documentKey string, payload any, message, actor string) {
	s.recordMutation(ctx, operation, documentKey, payload, message, actor)
	s.sets.InvalidateAll()
	if err := s.cache.Invalidate(ctx, documentKey); err != nil {
		log.Printf("app: invalidate detail cache for %s: %v", documentKey, err)
	}
}

// recordMutation is best effort: the remote write already happened, so an
// audit failure is logged rather than turned into a caller-visible error.
func (s *Service) recordMutation(ctx context.Context, operation, documentKey string, payload any, message, actor string) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = nil
	}
	if _, err := s.audit.Insert(ctx, store.AuditEntry{
		Operation:     operation,
		DocumentKey:   documentKey,
		Payload:       encoded,
		RemoteMessage: message,
		Actor:         actor,
	}); err != nil {
		log.Printf("app: record audit entry for %s %s: %v", operation, documentKey, err)
	}
}
