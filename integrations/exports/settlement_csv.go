package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"paysettle/services/settled/journal"
)

var csvHeader = []string{
	"sequence", "receipt_id", "type", "order_id",
	"pay_in_amount", "pay_out_amount", "fee_collected",
	"merchant", "payer", "recorded_at", "attributes",
}

// SettlementsCSV builds a CSV export of journaled events and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func SettlementsCSV(records []journal.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		attrs, err := attributesJSON(rec)
		if err != nil {
			return nil, "", err
		}
		row := []string{
			strconv.FormatInt(rec.Sequence, 10),
			rec.ReceiptID,
			rec.Type,
			rec.OrderID,
			rec.Attributes["payInAmount"],
			rec.Attributes["payOutAmount"],
			rec.Attributes["feeCollected"],
			rec.Attributes["merchant"],
			rec.Attributes["payer"],
			rec.RecordedAt.UTC().Format(time.RFC3339Nano),
			attrs,
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
