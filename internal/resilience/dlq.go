package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DLQEntry records a failed refresh attempt for one entity/source pair so it
// can be retried later with backoff.
type DLQEntry struct {
	ID           string    `json:"id"`
	EntityKey    string    `json:"entity_key"`
	Source       string    `json:"source"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

const (
	dlqDefaultMaxRetries = 3
	dlqRetryDelay        = 30 * time.Minute
)

// DLQ is an in-memory dead letter queue for failed refreshes, keyed by
// entity/source so repeated failures update one entry instead of piling up.
type DLQ struct {
	mu      sync.Mutex
	entries map[string]*DLQEntry
	now     func() time.Time
}

func NewDLQ() *DLQ {
	return &DLQ{
		entries: make(map[string]*DLQEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNow injects a clock for tests.
func (q *DLQ) WithNow(now func() time.Time) *DLQ {
	q.now = now
	return q
}

// Record adds or refreshes the entry for a failed entity/source refresh. The
// retry delay grows linearly with the failure count.
func (q *DLQ) Record(entityKey, source string, err error) *DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	key := entityKey + "/" + source
	e, ok := q.entries[key]
	if !ok {
		e = &DLQEntry{
			ID:         uuid.NewString(),
			EntityKey:  entityKey,
			Source:     source,
			MaxRetries: dlqDefaultMaxRetries,
			CreatedAt:  now,
		}
		q.entries[key] = e
	}

	e.Error = err.Error()
	e.ErrorType = ClassifyError(err)
	e.RetryCount++
	e.LastFailedAt = now
	e.NextRetryAt = now.Add(time.Duration(e.RetryCount) * dlqRetryDelay)
	return e
}

// Due returns entries whose retry time has passed and that still have
// retries left. Exhausted transient entries and permanent failures stay in
// the queue for inspection but are never returned.
func (q *DLQ) Due(now time.Time) []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []DLQEntry
	for _, e := range q.entries {
		if e.ErrorType == "permanent" || !e.CanRetry() {
			continue
		}
		if !now.Before(e.NextRetryAt) {
			out = append(out, *e)
		}
	}
	return out
}

// Resolve drops the entry for an entity/source after a successful refresh.
func (q *DLQ) Resolve(entityKey, source string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, entityKey+"/"+source)
}

// Len reports how many entries are held, exhausted ones included.
func (q *DLQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a snapshot of every entry, for status reporting.
func (q *DLQ) Entries() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DLQEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}
