package tick

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// RecordBytes is the size of one packed record. The layout is little-endian:
// int32 instrumentID, int32 msOfDay, int32 price, int32 volume.
// Open/high/low are intentionally not stored per tick; they are derived by
// second-level aggregation at ingestion time.
const RecordBytes = 16

// FormatVersion identifies the chunk wire format carried in staged metadata.
const FormatVersion = 1

// Record is a decoded 16-byte record with its timestamp reconstructed from
// the chunk's trading date.
type Record struct {
	InstrumentID int32
	TS           time.Time
	Price        int32
	Volume       int32
}

// putRecord packs one record into dst, which must be at least RecordBytes long.
func putRecord(dst []byte, instrumentID, msOfDay, price, volume int32) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(instrumentID))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(msOfDay))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(price))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(volume))
}

// DecodeRecords parses raw chunk bytes in 16-byte strides. baseDate is the
// local trading date the records belong to; loc is the exchange timezone.
// A trailing partial record is a format error, never silently skipped.
func DecodeRecords(raw []byte, baseDate time.Time, loc *time.Location) ([]Record, error) {
	if len(raw)%RecordBytes != 0 {
		return nil, fmt.Errorf("raw length %d is not a multiple of %d", len(raw), RecordBytes)
	}

	y, mo, d := baseDate.In(loc).Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, loc)

	out := make([]Record, 0, len(raw)/RecordBytes)
	for off := 0; off+RecordBytes <= len(raw); off += RecordBytes {
		b := raw[off : off+RecordBytes]
		msOfDay := int32(binary.LittleEndian.Uint32(b[4:8]))
		out = append(out, Record{
			InstrumentID: int32(binary.LittleEndian.Uint32(b[0:4])),
			TS:           midnight.Add(time.Duration(msOfDay) * time.Millisecond),
			Price:        int32(binary.LittleEndian.Uint32(b[8:12])),
			Volume:       int32(binary.LittleEndian.Uint32(b[12:16])),
		})
	}
	return out, nil
}

// Shared zstd coders. EncodeAll/DecodeAll are safe for concurrent use, so one
// encoder per level and a single decoder serve the whole process.
var (
	encMu    sync.Mutex
	encoders = map[int]*zstd.Encoder{}

	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func encoderFor(level int) (*zstd.Encoder, error) {
	encMu.Lock()
	defer encMu.Unlock()

	if enc, ok := encoders[level]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder (level %d): %w", level, err)
	}
	encoders[level] = enc
	return enc, nil
}

// Decompress inflates a staged blob back to exactly rawBytes bytes.
// The format stores the original size in chunk metadata rather than in the
// stream, so the caller must pass the recorded length.
func Decompress(blob []byte, rawBytes int) ([]byte, error) {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})

	raw, err := decoder.DecodeAll(blob, make([]byte, 0, rawBytes))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(raw) != rawBytes {
		return nil, fmt.Errorf("decompressed %d bytes, metadata says %d", len(raw), rawBytes)
	}
	return raw, nil
}
