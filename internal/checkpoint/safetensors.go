// Package checkpoint reads and writes named parameter tensors in the
// SafeTensors layout:
//
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON object, name -> {dtype, shape, data_offsets}, plus "__metadata__"]
//	[tensor data: little-endian bytes, tensors in name order]
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/born-ml/encdec/internal/tensor"
)

// MaxHeaderSize bounds the JSON header a reader accepts.
const MaxHeaderSize = 100 << 20

const metadataKey = "__metadata__"

var (
	// ErrInvalidFormat is returned for malformed files.
	ErrInvalidFormat = errors.New("invalid checkpoint")

	// ErrUnsupportedDType is returned for tensor dtypes without a native
	// representation (F16, BF16 and friends).
	ErrUnsupportedDType = errors.New("unsupported checkpoint dtype")
)

// TensorInfo is one header entry.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

var dtypeNames = map[tensor.DataType]string{
	tensor.Float32: "F32",
	tensor.Float64: "F64",
	tensor.Int32:   "I32",
	tensor.Int64:   "I64",
	tensor.Uint8:   "U8",
	tensor.Bool:    "BOOL",
}

func parseDType(name string) (tensor.DataType, error) {
	for dt, n := range dtypeNames {
		if n == name {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnsupportedDType)
}

// storage returns the typed slice behind r for encoding/binary.
func storage(r *tensor.RawTensor) any {
	switch r.DType() {
	case tensor.Float32:
		return r.AsFloat32()
	case tensor.Float64:
		return r.AsFloat64()
	case tensor.Int32:
		return r.AsInt32()
	case tensor.Int64:
		return r.AsInt64()
	case tensor.Uint8:
		return r.AsUint8()
	default:
		return r.AsBool()
	}
}

// Write encodes tensors in name order with optional string metadata.
func Write(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == metadataKey {
			return fmt.Errorf("checkpoint: reserved tensor name %q: %w", name, ErrInvalidFormat)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		raw := tensors[name]
		size := int64(raw.ByteSize())
		header[name] = TensorInfo{
			DType:       dtypeNames[raw.DType()],
			Shape:       raw.Shape().Clone(),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("checkpoint: write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("checkpoint: write header: %w", err)
	}
	for _, name := range names {
		if err := binary.Write(w, binary.LittleEndian, storage(tensors[name])); err != nil {
			return fmt.Errorf("checkpoint: write tensor %s: %w", name, err)
		}
	}
	return nil
}

// Read decodes every tensor and the metadata from r.
func Read(r io.Reader) (map[string]*tensor.RawTensor, map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: %w", err)
	}
	return decode(data)
}

// decode parses a whole file. Tensors are copied out of data, so the
// caller may release it afterwards.
func decode(file []byte) (map[string]*tensor.RawTensor, map[string]string, error) {
	if len(file) < 8 {
		return nil, nil, fmt.Errorf("checkpoint: %d bytes, want at least 8: %w", len(file), ErrInvalidFormat)
	}
	headerSize := binary.LittleEndian.Uint64(file[:8])
	if headerSize > MaxHeaderSize || headerSize > uint64(len(file)-8) {
		return nil, nil, fmt.Errorf("checkpoint: header of %d bytes in a %d byte file: %w",
			headerSize, len(file), ErrInvalidFormat)
	}
	headerJSON := file[8 : 8+headerSize]
	data := file[8+headerSize:]

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &entries); err != nil {
		return nil, nil, fmt.Errorf("checkpoint: parse header: %v: %w", err, ErrInvalidFormat)
	}
	var metadata map[string]string
	infos := make(map[string]TensorInfo, len(entries))
	for name, entry := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(entry, &metadata); err != nil {
				return nil, nil, fmt.Errorf("checkpoint: parse metadata: %v: %w", err, ErrInvalidFormat)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(entry, &info); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: parse tensor %s: %v: %w", name, err, ErrInvalidFormat)
		}
		infos[name] = info
	}

	if err := validateOffsets(infos, int64(len(data))); err != nil {
		return nil, nil, err
	}

	tensors := make(map[string]*tensor.RawTensor, len(infos))
	for name, info := range infos {
		dtype, err := parseDType(info.DType)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint: tensor %s: %w", name, err)
		}
		raw, err := tensor.NewRaw(tensor.Shape(info.Shape), dtype, tensor.CPU)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint: tensor %s: %w", name, err)
		}
		if int64(raw.ByteSize()) != info.DataOffsets[1]-info.DataOffsets[0] {
			return nil, nil, fmt.Errorf("checkpoint: tensor %s: %d bytes for shape %v: %w",
				name, info.DataOffsets[1]-info.DataOffsets[0], info.Shape, ErrInvalidFormat)
		}
		chunk := bytes.NewReader(data[info.DataOffsets[0]:info.DataOffsets[1]])
		if err := binary.Read(chunk, binary.LittleEndian, storage(raw)); err != nil {
			return nil, nil, fmt.Errorf("checkpoint: decode tensor %s: %w", name, err)
		}
		tensors[name] = raw
	}
	return tensors, metadata, nil
}

// validateOffsets checks that every range lies inside the data section
// and that no two ranges overlap.
func validateOffsets(infos map[string]TensorInfo, dataSize int64) error {
	type span struct {
		name       string
		start, end int64
	}
	spans := make([]span, 0, len(infos))
	for name, info := range infos {
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start || end > dataSize {
			return fmt.Errorf("checkpoint: tensor %s range [%d, %d) outside %d data bytes: %w",
				name, start, end, dataSize, ErrInvalidFormat)
		}
		spans = append(spans, span{name, start, end})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return fmt.Errorf("checkpoint: tensors %s and %s overlap: %w",
				spans[i-1].name, spans[i].name, ErrInvalidFormat)
		}
	}
	return nil
}

// WriteFile writes a checkpoint to path.
func WriteFile(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) (err error) {
	//nolint:gosec // G304: checkpoint paths come from the caller
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("checkpoint: %w", cerr)
		}
	}()
	return Write(f, tensors, metadata)
}

// ReadFile reads a checkpoint from path, memory-mapping it where the
// platform allows.
func ReadFile(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	//nolint:gosec // G304: checkpoint paths come from the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: %w", err)
	}
	if stat.Size() > 0 {
		if data, err := mapFile(f, stat.Size()); err == nil {
			defer func() { _ = unmapFile(data) }()
			return decode(data)
		}
	}
	return Read(f)
}
