package exports

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func sampleEntry(seq uint64) StatusEntry {
	return StatusEntry{
		Sequence:    seq,
		BadgeID:     "0x00000001aabbccdd000000000000000000000000000000000000000000000000",
		Holder:      "0x0101010101010101010101010101010101010101",
		Account:     "0x0000000100000000000000000202020202020202020202020202020202020202",
		Asset:       "0x0303030303030303030303030303030303030303",
		Rate:        "5",
		WindowStart: 500,
		WindowEnd:   1000,
		Kind:        "added",
		ObservedAt:  time.Unix(1700, 0).UTC(),
	}
}

func TestStatusCSV(t *testing.T) {
	data, checksum, err := StatusCSV([]StatusEntry{sampleEntry(1)})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || len(checksum) != 64 {
		t.Fatalf("expected data and checksum, got %d bytes / %q", len(data), checksum)
	}
	output := string(data)
	if !strings.Contains(output, "sequence,badge_id,holder,account,asset,rate,window_start,window_end,kind,observed_at") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, "added") {
		t.Fatalf("missing kind: %s", output)
	}
	again, checksumAgain, err := StatusCSV([]StatusEntry{sampleEntry(1)})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if !bytes.Equal(data, again) || checksum != checksumAgain {
		t.Fatalf("expected deterministic export")
	}
}

func TestStatusParquet(t *testing.T) {
	data, checksum, err := StatusParquet([]StatusEntry{sampleEntry(1), sampleEntry(2)})
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if len(data) == 0 || len(checksum) != 64 {
		t.Fatalf("expected data and checksum, got %d bytes / %q", len(data), checksum)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatalf("payload is not a parquet file")
	}
}

func TestWriteArchive(t *testing.T) {
	dir := t.TempDir()
	asOf := time.Unix(1_700_000_000, 0).UTC()
	archive, err := WriteArchive(dir, asOf, []StatusEntry{sampleEntry(1), sampleEntry(2), sampleEntry(3)})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archive.Count != 3 {
		t.Fatalf("expected 3 entries, got %d", archive.Count)
	}
	csvData, err := os.ReadFile(archive.CSVPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	expected, checksum, err := StatusCSV([]StatusEntry{sampleEntry(1), sampleEntry(2), sampleEntry(3)})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if !bytes.Equal(csvData, expected) || archive.CSVChecksum != checksum {
		t.Fatalf("csv artefact does not match in-memory export")
	}
	if _, err := os.Stat(archive.ParquetPath); err != nil {
		t.Fatalf("parquet artefact missing: %v", err)
	}
	if archive.ParquetChecksum == "" {
		t.Fatalf("expected parquet checksum")
	}
}
