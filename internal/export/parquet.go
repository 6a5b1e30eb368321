// Package export renders finished sessions for download: Parquet for
// analysis tools, an interactive HTML chart, and a static PNG.
package export

import (
	"time"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/banshee-data/repcount/internal/session"
)

// EventRow is one repetition as written to Parquet.
type EventRow struct {
	SessionID string  `parquet:"name=session_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Exercise  string  `parquet:"name=exercise, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Seq       int64   `parquet:"name=seq, type=INT64"`
	TSUTCISO  string  `parquet:"name=ts_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8"`
	ElapsedS  float64 `parquet:"name=elapsed_s, type=DOUBLE"`
	Source    string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Count     float64 `parquet:"name=count, type=DOUBLE"`
	Calories  float64 `parquet:"name=calories, type=DOUBLE"`
}

// Rows flattens a session's events.
func Rows(s session.Summary) []EventRow {
	rows := make([]EventRow, 0, len(s.Events))
	for _, ev := range s.Events {
		rows = append(rows, EventRow{
			SessionID: s.ID,
			Exercise:  s.Exercise,
			Seq:       int64(ev.Seq),
			TSUTCISO:  ev.Time.UTC().Format(time.RFC3339Nano),
			ElapsedS:  ev.Time.Sub(s.StartedAt).Seconds(),
			Source:    string(ev.Source),
			Count:     ev.Count,
			Calories:  ev.Calories,
		})
	}
	return rows
}

// Parquet encodes a session's events as a Snappy-compressed Parquet file.
func Parquet(s session.Summary) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(EventRow), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range Rows(s) {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
