package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

// StatusEntry is one exported status transition, flattened for downstream
// analytics. Addresses and identifiers are carried as the feed rendered them.
type StatusEntry struct {
	Sequence    uint64
	BadgeID     string
	Holder      string
	Account     string
	Asset       string
	Rate        string
	WindowStart uint32
	WindowEnd   uint32
	Kind        string
	ObservedAt  time.Time
}

// StatusCSV builds a CSV export for the supplied status transitions and
// returns the serialised data alongside a BLAKE3 checksum of the payload.
func StatusCSV(entries []StatusEntry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "badge_id", "holder", "account", "asset", "rate", "window_start", "window_end", "kind", "observed_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, entry := range entries {
		observed := entry.ObservedAt
		if observed.IsZero() {
			observed = time.Now().UTC()
		}
		record := []string{
			fmt.Sprintf("%d", entry.Sequence),
			entry.BadgeID,
			entry.Holder,
			entry.Account,
			entry.Asset,
			entry.Rate,
			fmt.Sprintf("%d", entry.WindowStart),
			fmt.Sprintf("%d", entry.WindowEnd),
			entry.Kind,
			observed.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := blake3.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
