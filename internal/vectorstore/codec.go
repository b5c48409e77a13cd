package vectorstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"math"
	"time"
)

// Persisted artifact names within a document directory.
const (
	indexFileName  = "index.dsv"
	recordFileName = "record.json"
)

// Binary index format (all integers little-endian):
//
//	offset  size  field
//	0       4     magic "DSVI"
//	4       2     format version (currently 1)
//	6       1     metric
//	7       1     reserved (zero)
//	8       4     dimension
//	12      4     vector count
//	16      n     count * dimension * 4 bytes of float32 payload
//	16+n    4     CRC-32 (IEEE) over bytes [0, 16+n)
//
// The format is self-describing and validated strictly on load: bad magic,
// unknown version, truncation, or a checksum mismatch all fail closed with
// ErrLoadFailed. Nothing in the file is executed or reflectively decoded.
const (
	indexFormatVersion = 1
	indexHeaderSize    = 16
)

var indexMagic = [4]byte{'D', 'S', 'V', 'I'}

// maxIndexVectors caps the declared vector count a file may carry, keeping a
// corrupted or hostile header from driving a huge allocation.
const maxIndexVectors = 1 << 24

// encodeIndex serializes an index to the binary artifact format.
func encodeIndex(idx *Index) []byte {
	count := idx.Size()
	buf := make([]byte, 0, indexHeaderSize+count*idx.dim*4+4)

	buf = append(buf, indexMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, indexFormatVersion)
	buf = append(buf, byte(idx.metric), 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(idx.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))

	for ord := 0; ord < count; ord++ {
		for _, x := range idx.vector(ord) {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf
}

// decodeIndex deserializes and validates a binary index artifact.
func decodeIndex(data []byte) (*Index, error) {
	if len(data) < indexHeaderSize+4 {
		return nil, fmt.Errorf("%w: index artifact truncated (%d bytes)", ErrLoadFailed, len(data))
	}

	payload, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("%w: index artifact checksum mismatch", ErrLoadFailed)
	}

	if !bytes.Equal(payload[:4], indexMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrLoadFailed, payload[:4])
	}
	if v := binary.LittleEndian.Uint16(payload[4:6]); v != indexFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrLoadFailed, v)
	}

	metric := Metric(payload[6])
	switch metric {
	case MetricCosine, MetricL2:
	default:
		return nil, fmt.Errorf("%w: unknown metric %d", ErrLoadFailed, payload[6])
	}

	dim := int(binary.LittleEndian.Uint32(payload[8:12]))
	count := int(binary.LittleEndian.Uint32(payload[12:16]))
	if dim <= 0 || count < 0 || count > maxIndexVectors {
		return nil, fmt.Errorf("%w: implausible geometry dim=%d count=%d", ErrLoadFailed, dim, count)
	}

	want := indexHeaderSize + count*dim*4
	if len(payload) != want {
		return nil, fmt.Errorf("%w: payload is %d bytes, header declares %d",
			ErrLoadFailed, len(payload), want)
	}

	vectors := make([][]float32, count)
	off := indexHeaderSize
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
			off += 4
		}
		vectors[i] = v
	}

	idx, err := NewIndex(dim, metric, vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	return idx, nil
}

// recordFile is the JSON sidecar schema, format-versioned like the binary
// artifact.
type recordFile struct {
	FormatVersion int               `json:"format_version"`
	DocumentID    string            `json:"document_id"`
	Model         string            `json:"model"`
	Metric        string            `json:"metric"`
	Dimension     int               `json:"dimension"`
	Chunks        []Chunk           `json:"chunks"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// encodeRecord serializes the sidecar for a record.
func encodeRecord(rec *Record) ([]byte, error) {
	rf := recordFile{
		FormatVersion: indexFormatVersion,
		DocumentID:    rec.DocumentID,
		Model:         rec.Model,
		Metric:        rec.Index.Metric().String(),
		Dimension:     rec.Index.Dimension(),
		Chunks:        rec.Chunks,
		Metadata:      rec.Metadata,
		CreatedAt:     rec.CreatedAt,
	}
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encoding sidecar: %v", ErrPersistFailed, err)
	}
	return data, nil
}

// decodeRecord deserializes and validates a sidecar, then cross-checks it
// against the already-decoded index.
func decodeRecord(data []byte, idx *Index) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rf recordFile
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("%w: decoding sidecar: %v", ErrLoadFailed, err)
	}

	if rf.FormatVersion != indexFormatVersion {
		return nil, fmt.Errorf("%w: unsupported sidecar version %d", ErrLoadFailed, rf.FormatVersion)
	}
	if rf.DocumentID == "" {
		return nil, fmt.Errorf("%w: sidecar missing document_id", ErrLoadFailed)
	}

	metric, err := ParseMetric(rf.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: sidecar metric %q", ErrLoadFailed, rf.Metric)
	}
	if metric != idx.Metric() {
		return nil, fmt.Errorf("%w: sidecar metric %s disagrees with index metric %s",
			ErrLoadFailed, metric, idx.Metric())
	}
	if rf.Dimension != idx.Dimension() {
		return nil, fmt.Errorf("%w: sidecar dimension %d disagrees with index dimension %d",
			ErrLoadFailed, rf.Dimension, idx.Dimension())
	}
	if len(rf.Chunks) != idx.Size() {
		return nil, fmt.Errorf("%w: sidecar has %d chunks, index has %d vectors",
			ErrLoadFailed, len(rf.Chunks), idx.Size())
	}
	for i, c := range rf.Chunks {
		if c.Ordinal != i {
			return nil, fmt.Errorf("%w: chunk %d carries ordinal %d", ErrLoadFailed, i, c.Ordinal)
		}
		if c.DocumentID != rf.DocumentID {
			return nil, fmt.Errorf("%w: chunk %d belongs to %q, sidecar is %q",
				ErrLoadFailed, i, c.DocumentID, rf.DocumentID)
		}
	}

	return &Record{
		DocumentID: rf.DocumentID,
		Index:      idx,
		Chunks:     rf.Chunks,
		Metadata:   rf.Metadata,
		Model:      rf.Model,
		CreatedAt:  rf.CreatedAt,
	}, nil
}
