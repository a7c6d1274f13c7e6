// Package capture records framed traffic for offline inspection.
//
// A Recorder plugs into a network as its Recorder option and receives a copy
// of every framed payload, packet id included, in both directions. Records
// are queued without blocking the connection, batched, and appended to a
// Store: in memory, in a local badger database or as zstd-compressed XDR
// objects in S3.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// batchVersion is bumped whenever the batch layout changes.
const batchVersion = 1

// ErrBatchVersion is returned when decoding a batch written by an
// incompatible version.
var ErrBatchVersion = errors.New("capture: unsupported batch version")

// Record is one captured payload.
type Record struct {
	// Seq orders records captured by one Recorder.
	Seq uint64
	// Timestamp is the capture time in Unix nanoseconds.
	Timestamp int64
	ConnID    string
	// Inbound is true for payloads read from the peer.
	Inbound bool
	Payload []byte
}

// Time returns the capture time.
func (r Record) Time() time.Time { return time.Unix(0, r.Timestamp) }

// Direction returns "in" or "out".
func (r Record) Direction() string {
	if r.Inbound {
		return "in"
	}
	return "out"
}

// MarshalRecord encodes r as XDR.
func MarshalRecord(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, r); err != nil {
		return nil, fmt.Errorf("marshal record %d: %w", r.Seq, err)
	}
	return buf.Bytes(), nil
}

// UnmarshalRecord decodes an XDR record.
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &r); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

type batch struct {
	Version uint32
	Records []Record
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return encoder, decoder, codecErr
}

// EncodeBatch encodes records as a zstd-compressed XDR batch.
func EncodeBatch(records []Record) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &batch{Version: batchVersion, Records: records}); err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	return enc.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len()/2)), nil
}

// DecodeBatch reverses EncodeBatch.
func DecodeBatch(data []byte) ([]Record, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress batch: %w", err)
	}
	var b batch
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), &b); err != nil {
		return nil, fmt.Errorf("unmarshal batch: %w", err)
	}
	if b.Version != batchVersion {
		return nil, fmt.Errorf("%w: %d", ErrBatchVersion, b.Version)
	}
	return b.Records, nil
}
