// Package safetensors reads safetensors headers. Tensor data is never
// loaded; only names, dtypes, shapes and offsets are needed to verify a
// pruned checkpoint against its config.
package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
)

// maxHeaderLen bounds the JSON header; real checkpoints stay far below it.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

type File struct {
	Path    string
	Tensors map[string]TensorInfo
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

var dtypeSize = map[string]int64{
	"BOOL": 1, "U8": 1, "I8": 1, "F8_E4M3": 1, "F8_E5M2": 1,
	"I16": 2, "U16": 2, "F16": 2, "BF16": 2,
	"I32": 4, "U32": 4, "F32": 4,
	"I64": 8, "U64": 8, "F64": 8,
}

// Open reads and validates the header of a single safetensors file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	headerLen, err := readU64(f)
	if err != nil {
		return nil, fmt.Errorf("%s: read header length: %w", path, err)
	}
	if headerLen == 0 || headerLen > maxHeaderLen {
		return nil, fmt.Errorf("%s: invalid header length %d", path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%s: parse header: %w", path, err)
	}
	delete(raw, "__metadata__")

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		info, err := th.info()
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		tensors[name] = info
	}
	return &File{Path: path, Tensors: tensors}, nil
}

func (th tensorHeader) info() (TensorInfo, error) {
	if len(th.DataOffsets) != 2 {
		return TensorInfo{}, fmt.Errorf("invalid data_offsets")
	}
	start, end := th.DataOffsets[0], th.DataOffsets[1]
	if start < 0 || end < start {
		return TensorInfo{}, fmt.Errorf("invalid offsets [%d, %d]", start, end)
	}
	if size, ok := dtypeSize[th.DType]; ok {
		n, err := numElements(th.Shape)
		if err != nil {
			return TensorInfo{}, err
		}
		if n*size != end-start {
			return TensorInfo{}, fmt.Errorf("%s %v needs %d bytes, offsets span %d", th.DType, th.Shape, n*size, end-start)
		}
	}
	return TensorInfo{DType: th.DType, Shape: th.Shape, Start: start, End: end}, nil
}

// TensorShape returns a copy of the tensor's shape.
func (f *File) TensorShape(name string) ([]int, bool) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(t.Shape), true
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	return slices.Sorted(maps.Keys(f.Tensors))
}

// numElements counts elements; a scalar (empty shape) holds one.
func numElements(shape []int) (int64, error) {
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d != 0 && n > (1<<62)/int64(d) {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= int64(d)
	}
	return n, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// IndexFile is the name of the shard index written by sharded checkpoints.
const IndexFile = "model.safetensors.index.json"

type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// Checkpoint is a set of safetensors files making up one model.
type Checkpoint struct {
	Dir    string
	Shards []*File
	owner  map[string]*File
}

// OpenDir opens the checkpoint in dir: every shard named by
// model.safetensors.index.json, or model.safetensors when there is no index.
func OpenDir(dir string) (*Checkpoint, error) {
	shardNames, err := shardFiles(dir)
	if err != nil {
		return nil, err
	}
	ck := &Checkpoint{Dir: dir, owner: make(map[string]*File)}
	for _, name := range shardNames {
		f, err := Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		ck.Shards = append(ck.Shards, f)
		for tensor := range f.Tensors {
			if prev, dup := ck.owner[tensor]; dup {
				return nil, fmt.Errorf("tensor %s appears in both %s and %s", tensor, prev.Path, f.Path)
			}
			ck.owner[tensor] = f
		}
	}
	return ck, nil
}

func shardFiles(dir string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if os.IsNotExist(err) {
		return []string{"model.safetensors"}, nil
	}
	if err != nil {
		return nil, err
	}
	var idx shardIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", IndexFile, err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("%s: empty weight_map", IndexFile)
	}
	seen := make(map[string]struct{})
	for tensor, shard := range idx.WeightMap {
		if shard == "" || shard == "." || shard == ".." || filepath.Base(shard) != shard {
			return nil, fmt.Errorf("%s: tensor %s maps to %q outside the model directory", IndexFile, tensor, shard)
		}
		seen[shard] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (c *Checkpoint) TensorShape(name string) ([]int, bool) {
	f, ok := c.owner[name]
	if !ok {
		return nil, false
	}
	return f.TensorShape(name)
}

// Len returns the number of tensors across all shards.
func (c *Checkpoint) Len() int {
	return len(c.owner)
}

// DataBytes returns the size of the tensor data across all shards.
func (c *Checkpoint) DataBytes() int64 {
	var total int64
	for _, f := range c.Shards {
		for _, t := range f.Tensors {
			total += t.End - t.Start
		}
	}
	return total
}
