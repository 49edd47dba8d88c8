package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/sqlite"
	"lukechampine.com/blake3"

	"paysettle/core/events"
	"paysettle/core/types"
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

// ErrPathRequired is returned when the journal path is missing.
var ErrPathRequired = errors.New("journal path must be configured")

// Record is one committed settlement event as persisted in the journal.
type Record struct {
	Sequence   int64             `json:"sequence"`
	ReceiptID  string            `json:"receiptId"`
	Type       string            `json:"type"`
	OrderID    string            `json:"orderId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	OrderID  string
	Type     string
	AfterSeq int64
	Limit    int
}

// Journal is an append-only SQLite log of committed events. It implements
// events.Emitter so it can sit behind the transaction envelope.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
	nonce  uint64

	subMu   sync.Mutex
	subs    map[int]chan Record
	nextSub int
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the journal at path, applying the schema.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	dsn, err := FileDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now, subs: make(map[int]chan Record)}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	j.subMu.Lock()
	for id, ch := range j.subs {
		delete(j.subs, id)
		close(ch)
	}
	j.subMu.Unlock()
	return j.db.Close()
}

// Emit persists a committed event. The ledger has already committed when
// this runs, so failures are logged rather than returned.
func (j *Journal) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if payload == nil {
		return
	}
	if _, err := j.Append(context.Background(), payload); err != nil {
		j.logger.Error("journal append failed", "type", payload.Type, "orderId", payload.Attributes["orderId"], "error", err)
	}
}

// Append stores payload and returns the persisted record.
func (j *Journal) Append(ctx context.Context, payload *types.Event) (Record, error) {
	if j == nil || j.db == nil {
		return Record{}, fmt.Errorf("journal not configured")
	}
	if payload == nil || strings.TrimSpace(payload.Type) == "" {
		return Record{}, fmt.Errorf("journal: event type required")
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return Record{}, fmt.Errorf("encode attributes: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	recorded := j.now().UTC()
	j.nonce++
	id := receiptID(payload.Type, attrs, recorded, j.nonce)
	res, err := j.db.ExecContext(ctx, `
        INSERT INTO settlement_events(receipt_id, event_type, order_id, attributes, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, id, payload.Type, payload.Attributes["orderId"], string(attrs), recorded.UnixNano())
	if err != nil {
		return Record{}, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("read sequence: %w", err)
	}
	rec := Record{
		Sequence:   seq,
		ReceiptID:  id,
		Type:       payload.Type,
		OrderID:    payload.Attributes["orderId"],
		Attributes: copyAttributes(payload.Attributes),
		RecordedAt: recorded,
	}
	j.publish(rec)
	return rec, nil
}

// Subscribe registers for records appended from now on, in sequence order.
// A subscriber that falls more than buffer records behind is dropped and its
// channel closed; it can resume from its last sequence with List. The
// returned cancel func is safe to call more than once.
func (j *Journal) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	j.subMu.Lock()
	id := j.nextSub
	j.nextSub++
	if j.subs == nil {
		j.subs = make(map[int]chan Record)
	}
	j.subs[id] = ch
	j.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.subMu.Lock()
			defer j.subMu.Unlock()
			if existing, ok := j.subs[id]; ok {
				delete(j.subs, id)
				close(existing)
			}
		})
	}
}

// publish runs under j.mu so subscribers observe commit order.
func (j *Journal) publish(rec Record) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	for id, ch := range j.subs {
		select {
		case ch <- copyRecord(rec):
		default:
			delete(j.subs, id)
			close(ch)
			j.logger.Warn("journal subscriber dropped", "subscriber", id, "sequence", rec.Sequence)
		}
	}
}

func copyRecord(rec Record) Record {
	rec.Attributes = copyAttributes(rec.Attributes)
	return rec
}

// List returns records in commit order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Record, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	query := `SELECT seq, receipt_id, event_type, order_id, attributes, recorded_at FROM settlement_events WHERE seq > ?`
	args := []interface{}{filter.AfterSeq}
	if filter.OrderID != "" {
		query += ` AND order_id = ?`
		args = append(args, filter.OrderID)
	}
	if eventType := strings.TrimSpace(filter.Type); eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			attrs    string
			recorded int64
		)
		if err := rows.Scan(&rec.Sequence, &rec.ReceiptID, &rec.Type, &rec.OrderID, &attrs, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for %s: %w", rec.ReceiptID, err)
		}
		rec.RecordedAt = time.Unix(0, recorded).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// receiptID hashes the event content with its recording time. The nonce
// separates identical events recorded within one clock tick.
func receiptID(eventType string, attrs []byte, recorded time.Time, nonce uint64) string {
	h := blake3.New(32, nil)
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write(attrs)
	h.Write([]byte{0})
	h.Write([]byte(recorded.Format(time.RFC3339Nano)))
	h.Write([]byte(strconv.FormatUint(nonce, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

func copyAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

const schema = `
CREATE TABLE IF NOT EXISTS settlement_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    receipt_id TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    order_id TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlement_events_order ON settlement_events(order_id);
CREATE INDEX IF NOT EXISTS idx_settlement_events_type ON settlement_events(event_type, seq);
`
