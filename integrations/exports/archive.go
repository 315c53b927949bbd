package exports

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Archive references the CSV and Parquet artefacts generated for one export
// run, with the checksum of each payload.
type Archive struct {
	CSVPath         string
	CSVChecksum     string
	ParquetPath     string
	ParquetChecksum string
	Count           int
}

// WriteArchive serialises the entries into both formats under dir. File names
// carry the asOf timestamp so successive runs never collide.
func WriteArchive(dir string, asOf time.Time, entries []StatusEntry) (Archive, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Archive{}, fmt.Errorf("exports: ensure output dir: %w", err)
	}
	stem := "status_" + asOf.UTC().Format("20060102T150405Z")

	csvData, csvChecksum, err := StatusCSV(entries)
	if err != nil {
		return Archive{}, err
	}
	csvPath := filepath.Join(dir, stem+".csv")
	if err := os.WriteFile(csvPath, csvData, 0o644); err != nil {
		return Archive{}, fmt.Errorf("exports: write csv: %w", err)
	}

	parquetData, parquetChecksum, err := StatusParquet(entries)
	if err != nil {
		return Archive{}, err
	}
	parquetPath := filepath.Join(dir, stem+".parquet")
	if err := os.WriteFile(parquetPath, parquetData, 0o644); err != nil {
		return Archive{}, fmt.Errorf("exports: write parquet: %w", err)
	}

	return Archive{
		CSVPath:         csvPath,
		CSVChecksum:     csvChecksum,
		ParquetPath:     parquetPath,
		ParquetChecksum: parquetChecksum,
		Count:           len(entries),
	}, nil
}
