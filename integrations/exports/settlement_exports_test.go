package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"

	"paysettle/services/settled/journal"
)

func sampleRecords() []journal.Record {
	recorded := time.Unix(1_700_000_000, 0).UTC()
	return []journal.Record{
		{
			Sequence:   1,
			ReceiptID:  strings.Repeat("ab", 32),
			Type:       "settlement.payment_completed",
			OrderID:    "order-1",
			Attributes: map[string]string{"orderId": "order-1", "payInAmount": "105", "payOutAmount": "100", "feeCollected": "5", "merchant": "m1"},
			RecordedAt: recorded,
		},
		{
			Sequence:   2,
			ReceiptID:  strings.Repeat("cd", 32),
			Type:       "settlement.payment_fee_distributed",
			OrderID:    "order-2",
			Attributes: map[string]string{"orderId": "order-2", "payInAmount": "18446744073709551615", "payOutAmount": "0", "feeCollected": "18446744073709551615", "dust": "5"},
			RecordedAt: recorded.Add(time.Second),
		},
	}
}

func TestSettlementsCSV(t *testing.T) {
	data, checksum, err := SettlementsCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(checksum) != 64 {
		t.Fatalf("unexpected checksum %q", checksum)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 || strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if rows[1][3] != "order-1" || rows[1][6] != "5" || rows[2][4] != "18446744073709551615" {
		t.Fatalf("unexpected values: %v", rows[1:])
	}
}

func TestSettlementsJSONL(t *testing.T) {
	data, _, err := SettlementsJSONL(sampleRecords())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec journal.Record
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.OrderID != "order-2" || rec.Attributes["dust"] != "5" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestSettlementsParquetRoundTrip(t *testing.T) {
	data, checksum, err := SettlementsParquet(sampleRecords())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(data), new(parquetRow), 1)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer pr.ReadStop()
	if pr.GetNumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", pr.GetNumRows())
	}
	rows := make([]parquetRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0].OrderID != "order-1" || rows[1].FeeCollected != "18446744073709551615" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestSettlementsRejectsUnknownFormat(t *testing.T) {
	if _, _, err := Settlements("xml", nil); err == nil {
		t.Fatalf("expected error")
	}
	if data, _, err := Settlements("CSV", nil); err != nil || !strings.HasPrefix(string(data), "sequence,") {
		t.Fatalf("csv by name: %q %v", data, err)
	}
}

func TestSettlementsParquetEmptyJournal(t *testing.T) {
	data, checksum, err := Settlements("parquet", nil)
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if len(data) == 0 || len(checksum) != 64 {
		t.Fatalf("expected a valid empty file, got %d bytes", len(data))
	}
	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(data), new(parquetRow), 1)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer pr.ReadStop()
	if pr.GetNumRows() != 0 {
		t.Fatalf("expected no rows, got %d", pr.GetNumRows())
	}
}
