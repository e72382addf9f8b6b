package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	Shape     []int  `json:"shape"`
	DataType  string `json:"data_type"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue      interface{} `json:"fill_value"`
	Codecs         []Codec     `json:"codecs"`
	DimensionNames []string    `json:"dimension_names"`
	ZarrFormat     int         `json:"zarr_format"`
	NodeType       string      `json:"node_type"`
}

// Codec is one entry of a Zarr v3 codec pipeline.
type Codec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration"`
}

// shardingCodec returns the sharding_indexed codec if the pipeline has one.
func (m *ArrayMeta) shardingCodec() *Codec {
	for i := range m.Codecs {
		if m.Codecs[i].Name == "sharding_indexed" {
			return &m.Codecs[i]
		}
	}
	return nil
}

// InnerChunkShape returns the extent of the smallest readable unit: the
// sub-chunk shape for sharded arrays, the chunk shape otherwise.
func (m *ArrayMeta) InnerChunkShape() []int {
	if sc := m.shardingCodec(); sc != nil {
		if shape, ok := intSlice(sc.Configuration["chunk_shape"]); ok {
			return shape
		}
	}
	return m.ChunkGrid.Configuration.ChunkShape
}

// ShardShape returns the outer chunk extent when the array is sharded, nil
// otherwise.
func (m *ArrayMeta) ShardShape() []int {
	if m.shardingCodec() == nil {
		return nil
	}
	return m.ChunkGrid.Configuration.ChunkShape
}

// ByteSize estimates the uncompressed size of the array from its data type
// width and shape product.
func (m *ArrayMeta) ByteSize() int64 {
	size, err := dtypeSize(m.DataType)
	if err != nil {
		return 0
	}
	total := int64(size)
	for _, d := range m.Shape {
		total *= int64(d)
	}
	return total
}

func intSlice(v interface{}) ([]int, bool) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]int, len(raw))
	for i, e := range raw {
		f, ok := e.(float64)
		if !ok {
			return nil, false
		}
		out[i] = int(f)
	}
	return out, true
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "uint8", "int8", "bool":
		return 1, nil
	case "uint16", "int16", "float16":
		return 2, nil
	case "uint32", "int32", "float32":
		return 4, nil
	case "uint64", "int64", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

// decodeScalar reads one little-endian element of the given data type and
// widens it to float64.
func decodeScalar(b []byte, dataType string) (float64, error) {
	switch dataType {
	case "bool", "uint8":
		return float64(b[0]), nil
	case "int8":
		return float64(int8(b[0])), nil
	case "uint16":
		return float64(binary.LittleEndian.Uint16(b)), nil
	case "int16":
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case "uint32":
		return float64(binary.LittleEndian.Uint32(b)), nil
	case "int32":
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case "uint64":
		return float64(binary.LittleEndian.Uint64(b)), nil
	case "int64":
		return float64(int64(binary.LittleEndian.Uint64(b))), nil
	case "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case "float64":
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

// fillScalar converts the metadata fill_value into a float64 sample.
func fillScalar(meta *ArrayMeta) float64 {
	switch v := meta.FillValue.(type) {
	case nil:
		return 0
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		// JSON spellings for non-finite floats.
		switch v {
		case "NaN":
			return math.NaN()
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		return 0
	default:
		return 0
	}
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
