package exports

import (
	"bytes"
	"encoding/json"
	"fmt"

	"paysettle/services/settled/journal"
)

// SettlementsJSONL writes one journal record per line.
func SettlementsJSONL(records []journal.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return nil, "", fmt.Errorf("encode record %d: %w", rec.Sequence, err)
		}
	}
	return checksummed(buffer.Bytes())
}

func attributesJSON(rec journal.Record) (string, error) {
	raw, err := json.Marshal(rec.Attributes)
	if err != nil {
		return "", fmt.Errorf("encode attributes for record %d: %w", rec.Sequence, err)
	}
	return string(raw), nil
}
