package exports

import (
	"fmt"
	"strings"

	"paysettle/services/settled/journal"
)

// Formats lists the supported export encodings.
var Formats = []string{"jsonl", "csv", "parquet"}

// Settlements encodes records in the named format.
func Settlements(format string, records []journal.Record) ([]byte, string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jsonl", "":
		return SettlementsJSONL(records)
	case "csv":
		return SettlementsCSV(records)
	case "parquet":
		return SettlementsParquet(records)
	default:
		return nil, "", fmt.Errorf("exports: unsupported format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}
