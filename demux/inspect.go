package demux

import (
	"errors"
	"io"

	"github.com/pithecene-io/tsrebuild/naming"
)

// RecordInfo describes one record for inspection.
type RecordInfo struct {
	Index         int    `json:"index"`
	Offset        int64  `json:"offset"`
	Marker        byte   `json:"marker"`
	Meta          uint16 `json:"meta"`
	CaptureNanos  int64  `json:"capture_ns"`
	PCR           int64  `json:"pcr"`
	PCRNanos      int64  `json:"pcr_ns"`
	PayloadLength int64  `json:"payload_length"`
	// CaptureDeltaNanos and PCRDeltaNanos are the distances from the
	// previous record. Both are 0 for the first record.
	CaptureDeltaNanos int64 `json:"capture_delta_ns"`
	PCRDeltaNanos     int64 `json:"pcr_delta_ns"`
	// DriftNanos is CaptureDeltaNanos minus PCRDeltaNanos.
	DriftNanos int64 `json:"drift_ns"`
}

// Inspect decodes up to limit records from r (all records when limit <= 0).
// On a decoding error the records read so far are returned with the error.
func Inspect(r io.Reader, limit int) ([]RecordInfo, error) {
	rr := NewRecordReader(r)
	var out []RecordInfo

	for limit <= 0 || len(out) < limit {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		info := RecordInfo{
			Index:         len(out),
			Offset:        rec.Offset,
			Marker:        rec.Marker,
			Meta:          rec.Meta,
			CaptureNanos:  rec.CaptureNanos,
			PCR:           rec.PCR,
			PCRNanos:      naming.PCRToNanos(rec.PCR),
			PayloadLength: rec.PayloadLength,
		}
		if n := len(out); n > 0 {
			prev := out[n-1]
			info.CaptureDeltaNanos = info.CaptureNanos - prev.CaptureNanos
			info.PCRDeltaNanos = info.PCRNanos - prev.PCRNanos
			info.DriftNanos = info.CaptureDeltaNanos - info.PCRDeltaNanos
		}
		out = append(out, info)
	}
	return out, nil
}
