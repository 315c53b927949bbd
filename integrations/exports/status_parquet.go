package exports

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"
)

type parquetStatusRow struct {
	Sequence    int64  `parquet:"name=sequence, type=INT64"`
	BadgeID     string `parquet:"name=badge_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Holder      string `parquet:"name=holder, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account     string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset       string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Rate        string `parquet:"name=rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	WindowStart int64  `parquet:"name=window_start, type=INT64"`
	WindowEnd   int64  `parquet:"name=window_end, type=INT64"`
	Kind        string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedAt  string `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// StatusParquet builds a Parquet export for the supplied status transitions
// and returns the serialised payload alongside a BLAKE3 checksum.
func StatusParquet(entries []StatusEntry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetStatusRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		observed := entry.ObservedAt
		if observed.IsZero() {
			observed = time.Now().UTC()
		}
		row := &parquetStatusRow{
			Sequence:    int64(entry.Sequence),
			BadgeID:     entry.BadgeID,
			Holder:      entry.Holder,
			Account:     entry.Account,
			Asset:       entry.Asset,
			Rate:        entry.Rate,
			WindowStart: int64(entry.WindowStart),
			WindowEnd:   int64(entry.WindowEnd),
			Kind:        entry.Kind,
			ObservedAt:  observed.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	checksum := blake3.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
