// Package observability implements the Observation Store: a bounded,
// thread-safe, event-emitting repository of proxied request records, plus
// a non-blocking fan-out of store events to live subscribers (the SSE
// monitor feed).
package observability

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status values a record can carry.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// EventKind is the discriminator of a fan-out event.
type EventKind string

const (
	EventRequestStart EventKind = "requestStart"
	EventRequestEnd   EventKind = "requestEnd"
	EventRequestError EventKind = "requestError"
	EventStreamChunk  EventKind = "streamChunk"
	EventClear        EventKind = "clear"
)

// Event is one fan-out notification delivered to subscribers.
type Event struct {
	Kind      EventKind `json:"kind"`
	RecordID  string    `json:"record_id,omitempty"`
	Record    *Record   `json:"record,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Chunk     []byte    `json:"-"`
}

// RequestSnapshot is what the Proxy Orchestrator hands to Start: the
// inbound request as observed, headers already present for masking.
type RequestSnapshot struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// ResponseSnapshot is what the orchestrator hands to End.
type ResponseSnapshot struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// ErrorDetail is attached to a record by SetError.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// MergedContent is the reconstructed non-streaming view of a streamed reply.
type MergedContent struct {
	Text      string          `json:"text,omitempty"`
	ToolCalls int             `json:"tool_calls,omitempty"`
	Usage     json.RawMessage `json:"usage,omitempty"`
	Final     bool            `json:"final"`
}

// Record is a single observed request's lifecycle.
type Record struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Status    string          `json:"status"`
	Request   RequestSnapshot `json:"request"`

	StreamChunks  [][]byte       `json:"-"`
	ChunksCount   int            `json:"chunks_count"`
	FirstChunkMs  int64          `json:"first_chunk_ms,omitempty"`
	MergedContent *MergedContent `json:"merged_content,omitempty"`

	Response   *ResponseSnapshot `json:"response,omitempty"`
	Error      *ErrorDetail      `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`

	RequestSize  int64 `json:"request_size"`
	ResponseSize int64 `json:"response_size"`
	TotalSize    int64 `json:"total_size"`

	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`

	startTime time.Time
}

// Stats is the aggregate counter set returned by GetStats.
type Stats struct {
	TotalRequests   int64  `json:"total_requests"`
	SuccessCount    int64  `json:"success_count"`
	ErrorCount      int64  `json:"error_count"`
	PendingCount    int64  `json:"pending_count"`
	TotalInputTok   int64  `json:"total_input_tokens"`
	TotalOutputTok  int64  `json:"total_output_tokens"`
	SubscriberDrops uint64 `json:"subscriber_drops"`
}

// Query describes a filtered, paginated listing request.
type Query struct {
	Status    string
	Model     string
	TimeRange string // "1h", "24h", "7d", "all"
	Page      int
	Limit     int
}

// QueryResult is the page returned by Store.Query.
type QueryResult struct {
	Data  []*Record `json:"data"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// ExportPayload is the shape returned by Store.Export.
type ExportPayload struct {
	ExportedAt  time.Time `json:"exported_at"`
	RecordCount int       `json:"record_count"`
	Records     []*Record `json:"records"`
}

// sink is one fan-out subscriber: a buffered channel plus its drop counter.
// Delivery never blocks the publisher — a full channel increments dropped
// and moves on.
type sink struct {
	ch      chan Event
	dropped uint64
}

// Store is the Observation Store: bounded, thread-safe, event-emitting.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string // insertion order, for stable iteration before sort
	capacity int
	stats    Stats

	subMu       sync.Mutex
	subscribers map[int]*sink
	nextSubID   int
}

// NewStore constructs a Store bounded to capacity records.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Store{
		records:     make(map[string]*Record),
		capacity:    capacity,
		subscribers: make(map[int]*sink),
	}
}

// Start begins tracking a new request, recording maskedHeaders (already
// masked by the caller, e.g. with MaskHeaders) in place of the snapshot's
// headers, running eviction first if at capacity, and returns the new
// record id.
func (s *Store) Start(snapshot RequestSnapshot, maskedHeaders map[string]string) string {
	id := newRecordID()
	now := time.Now()

	snapshot.Headers = maskedHeaders

	rec := &Record{
		ID:          id,
		Timestamp:   now,
		Status:      StatusPending,
		Request:     snapshot,
		RequestSize: int64(len(snapshot.Body)),
		startTime:   now,
	}

	s.mu.Lock()
	if len(s.records) >= s.capacity {
		s.evictLocked()
	}
	s.records[id] = rec
	s.order = append(s.order, id)
	s.stats.TotalRequests++
	s.stats.PendingCount++
	snap := *rec
	s.mu.Unlock()

	s.publish(Event{Kind: EventRequestStart, RecordID: id, Record: &snap, Timestamp: now})
	return id
}

// AddChunk appends a raw streamed chunk to the record.
func (s *Store) AddChunk(id string, raw []byte) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if len(rec.StreamChunks) == 0 {
		rec.FirstChunkMs = time.Since(rec.startTime).Milliseconds()
	}
	rec.StreamChunks = append(rec.StreamChunks, raw)
	rec.ChunksCount++
	rec.ResponseSize += int64(len(raw))
	rec.TotalSize = rec.RequestSize + rec.ResponseSize
	s.mu.Unlock()

	s.publish(Event{Kind: EventStreamChunk, RecordID: id, Chunk: raw, Timestamp: time.Now()})
}

// SetMerged attaches the reconstructed non-streaming summary to a record.
func (s *Store) SetMerged(id string, merged MergedContent, inputTokens, outputTokens int64) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.MergedContent = &merged
	if inputTokens > 0 || outputTokens > 0 {
		rec.InputTokens = inputTokens
		rec.OutputTokens = outputTokens
		s.stats.TotalInputTok += inputTokens
		s.stats.TotalOutputTok += outputTokens
	}
	rec.TotalSize = rec.RequestSize + rec.ResponseSize
	s.mu.Unlock()
}

// End finalizes a record: sets the response, computes duration and status,
// updates aggregate stats, and publishes requestEnd.
func (s *Store) End(id string, response ResponseSnapshot) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.Response = &response
	rec.DurationMs = time.Since(rec.startTime).Milliseconds()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		rec.Status = StatusSuccess
		s.stats.SuccessCount++
	} else {
		rec.Status = StatusError
		s.stats.ErrorCount++
	}
	s.stats.PendingCount--
	if len(response.Body) > 0 {
		rec.ResponseSize += int64(len(response.Body))
		rec.TotalSize = rec.RequestSize + rec.ResponseSize
	}
	snap := *rec
	s.mu.Unlock()

	s.publish(Event{Kind: EventRequestEnd, RecordID: id, Record: &snap, Timestamp: time.Now()})
}

// SetError marks a record as failed.
func (s *Store) SetError(id string, detail ErrorDetail) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	wasPending := rec.Status == StatusPending
	rec.Status = StatusError
	rec.Error = &detail
	rec.DurationMs = time.Since(rec.startTime).Milliseconds()
	if wasPending {
		s.stats.PendingCount--
	}
	s.stats.ErrorCount++
	snap := *rec
	s.mu.Unlock()

	s.publish(Event{Kind: EventRequestError, RecordID: id, Record: &snap, Timestamp: time.Now()})
}

// Get returns a single record by id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	snap := *rec
	return &snap, true
}

// Query filters, sorts newest-first, and paginates records.
func (s *Store) Query(q Query) QueryResult {
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	all := make([]*Record, 0, len(s.records))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			cp := *rec
			all = append(all, &cp)
		}
	}
	s.mu.RUnlock()

	filtered := all[:0:0]
	cutoff := timeRangeCutoff(q.TimeRange)
	for _, rec := range all {
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if q.Model != "" && !requestModelMatches(rec.Request.Body, q.Model) {
			continue
		}
		if !cutoff.IsZero() && rec.Timestamp.Before(cutoff) {
			continue
		}
		filtered = append(filtered, rec)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	total := len(filtered)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return QueryResult{Data: filtered[start:end], Total: total, Page: page, Limit: limit}
}

// GetStats returns the aggregate counters, including current subscriber
// drop totals.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()

	var drops uint64
	s.subMu.Lock()
	for _, sub := range s.subscribers {
		drops += atomic.LoadUint64(&sub.dropped)
	}
	s.subMu.Unlock()

	stats.SubscriberDrops = drops
	return stats
}

// Export returns the full record set.
func (s *Store) Export() ExportPayload {
	s.mu.RLock()
	records := make([]*Record, 0, len(s.records))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			cp := *rec
			records = append(records, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	return ExportPayload{
		ExportedAt:  time.Now(),
		RecordCount: len(records),
		Records:     records,
	}
}

// Clear empties the store and resets all counters, then publishes clear.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]*Record)
	s.order = nil
	s.stats = Stats{}
	s.mu.Unlock()

	s.subMu.Lock()
	for _, sub := range s.subscribers {
		atomic.StoreUint64(&sub.dropped, 0)
	}
	s.subMu.Unlock()

	s.publish(Event{Kind: EventClear, Timestamp: time.Now()})
}

// evictLocked implements the eviction strategy; caller must hold s.mu.
func (s *Store) evictLocked() {
	ids := make([]string, len(s.order))
	copy(ids, s.order)

	sort.SliceStable(ids, func(i, j int) bool {
		ri, rj := s.records[ids[i]], s.records[ids[j]]
		if ri == nil || rj == nil {
			return false
		}
		iPending := ri.Status == StatusPending
		jPending := rj.Status == StatusPending
		if iPending != jPending {
			return !iPending // completed (false) sorts before pending (true)
		}
		return ri.Timestamp.Before(rj.Timestamp)
	})

	n := s.capacity / 10
	if n < 1 {
		n = 1
	}
	if n > len(ids) {
		n = len(ids)
	}

	toRemove := make(map[string]bool, n)
	for _, id := range ids[:n] {
		toRemove[id] = true
	}

	if len(s.records)-len(toRemove) >= s.capacity && allPending(ids, toRemove, s.records) {
		// every remaining record is pending; evict one more to guarantee
		// forward progress.
		for _, id := range ids {
			if !toRemove[id] {
				toRemove[id] = true
				break
			}
		}
	}

	s.removeLocked(toRemove)
}

func allPending(ids []string, removed map[string]bool, records map[string]*Record) bool {
	for _, id := range ids {
		if removed[id] {
			continue
		}
		if rec, ok := records[id]; ok && rec.Status != StatusPending {
			return false
		}
	}
	return true
}

func (s *Store) removeLocked(ids map[string]bool) {
	for id := range ids {
		delete(s.records, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if !ids[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

func timeRangeCutoff(tr string) time.Time {
	switch tr {
	case "1h":
		return time.Now().Add(-1 * time.Hour)
	case "24h":
		return time.Now().Add(-24 * time.Hour)
	case "7d":
		return time.Now().Add(-7 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

func requestModelMatches(body json.RawMessage, model string) bool {
	if len(body) == 0 {
		return false
	}
	var v struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return false
	}
	return v.Model == model
}

func newRecordID() string {
	var buf [5]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf[:])[:9])
}
