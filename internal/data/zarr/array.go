// Package zarr reads slices of remote Zarr v3 arrays.
package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Slice selects elements along one axis: [Start, Stop) with the given Step.
// A negative Stop selects the full extent.
type Slice struct {
	Start, Stop, Step int
}

// Index selects a single fixed index along an axis.
func Index(i int) Slice { return Slice{Start: i, Stop: i + 1, Step: 1} }

// Full selects the whole extent of an axis.
func Full() Slice { return Slice{Start: 0, Stop: -1, Step: 1} }

// Array provides slice reads against one Zarr v3 array.
type Array struct {
	store   Store
	root    string
	meta    *ArrayMeta
	dtSize  int
	fill    float64
	decoder *zstd.Decoder
}

// OpenArray fetches and parses zarr.json under root and returns an Array
// ready for reads.
func OpenArray(ctx context.Context, store Store, root string) (*Array, error) {
	data, err := store.Get(ctx, JoinPath(root, "zarr.json"))
	if err != nil {
		return nil, fmt.Errorf("open array %s: %w", root, err)
	}

	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse array metadata at %s: %w", root, err)
	}
	if meta.NodeType != "" && meta.NodeType != "array" {
		return nil, fmt.Errorf("%s is a %s node, not an array", root, meta.NodeType)
	}
	if len(meta.Shape) == 0 {
		return nil, fmt.Errorf("array %s has no shape", root)
	}
	if len(meta.ChunkGrid.Configuration.ChunkShape) != len(meta.Shape) {
		return nil, fmt.Errorf("array %s: chunk dims (%d) != shape dims (%d)",
			root, len(meta.ChunkGrid.Configuration.ChunkShape), len(meta.Shape))
	}
	if err := validateChunkGrid(&meta); err != nil {
		return nil, fmt.Errorf("array %s: %w", root, err)
	}

	size, err := dtypeSize(meta.DataType)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", root, err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Array{
		store:   store,
		root:    root,
		meta:    &meta,
		dtSize:  size,
		fill:    fillScalar(&meta),
		decoder: decoder,
	}, nil
}

// validateChunkGrid rejects chunk layouts that cannot address any sample:
// every chunk extent must be positive, and for sharded arrays the inner
// chunk shape must evenly tile the shard shape.
func validateChunkGrid(meta *ArrayMeta) error {
	for d, c := range meta.ChunkGrid.Configuration.ChunkShape {
		if c <= 0 {
			return fmt.Errorf("chunk extent %d on axis %d must be positive", c, d)
		}
	}
	inner := meta.InnerChunkShape()
	if len(inner) != len(meta.Shape) {
		return fmt.Errorf("inner chunk dims (%d) != shape dims (%d)", len(inner), len(meta.Shape))
	}
	for d, c := range inner {
		if c <= 0 {
			return fmt.Errorf("inner chunk extent %d on axis %d must be positive", c, d)
		}
	}
	if shard := meta.ShardShape(); shard != nil {
		for d := range shard {
			if shard[d]%inner[d] != 0 {
				return fmt.Errorf("inner chunk extent %d does not divide shard extent %d on axis %d",
					inner[d], shard[d], d)
			}
		}
	}
	return nil
}

// Shape returns the per-axis extents.
func (a *Array) Shape() []int { return a.meta.Shape }

// Meta returns the parsed array metadata.
func (a *Array) Meta() *ArrayMeta { return a.meta }

// Close releases decoder resources.
func (a *Array) Close() {
	if a.decoder != nil {
		a.decoder.Close()
	}
}

// Read gathers the selected elements into a flat row-major float64 buffer and
// returns it with its realized shape. One Slice per axis is required.
func (a *Array) Read(ctx context.Context, sel []Slice) ([]float64, []int, error) {
	shape := a.meta.Shape
	if len(sel) != len(shape) {
		return nil, nil, fmt.Errorf("selection has %d axes, array has %d", len(sel), len(shape))
	}

	// Normalize the selection and compute the output shape.
	norm := make([]Slice, len(sel))
	outShape := make([]int, len(sel))
	for d, s := range sel {
		if s.Step <= 0 {
			s.Step = 1
		}
		if s.Stop < 0 {
			s.Stop = shape[d]
		}
		if s.Start < 0 || s.Start > s.Stop || s.Stop > shape[d] {
			return nil, nil, fmt.Errorf("selection out of bounds on axis %d: [%d,%d) of %d", d, s.Start, s.Stop, shape[d])
		}
		norm[d] = s
		outShape[d] = ceilDiv(s.Stop-s.Start, s.Step)
	}

	total := product(outShape)
	out := make([]float64, total)
	if total == 0 {
		return out, outShape, nil
	}

	inner := a.meta.InnerChunkShape()
	cache := map[string][]float64{}
	coord := make([]int, len(shape))
	src := make([]int, len(shape))
	chunkIdx := make([]int, len(shape))

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		offset := 0
		for d := range shape {
			src[d] = norm[d].Start + coord[d]*norm[d].Step
			chunkIdx[d] = src[d] / inner[d]
		}

		samples, err := a.chunkSamples(ctx, chunkIdx, inner, cache)
		if err != nil {
			return nil, nil, err
		}

		// Row-major offset within the chunk.
		for d := range shape {
			offset = offset*inner[d] + src[d]%inner[d]
		}
		out[i] = samples[offset]

		// Advance the output odometer.
		for d := len(coord) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < outShape[d] {
				break
			}
			coord[d] = 0
		}
	}

	return out, outShape, nil
}

// chunkSamples returns the decoded samples of the inner chunk at chunkIdx,
// memoizing per-read.
func (a *Array) chunkSamples(ctx context.Context, chunkIdx, inner []int, cache map[string][]float64) ([]float64, error) {
	key := chunkCacheKey(chunkIdx)
	if samples, ok := cache[key]; ok {
		return samples, nil
	}

	var (
		samples []float64
		err     error
	)
	if a.meta.ShardShape() != nil {
		samples, err = a.readShardedChunk(ctx, chunkIdx, inner)
	} else {
		samples, err = a.readPlainChunk(ctx, chunkIdx, inner)
	}
	if err != nil {
		return nil, err
	}
	cache[key] = samples
	return samples, nil
}

func (a *Array) readPlainChunk(ctx context.Context, chunkIdx, inner []int) ([]float64, error) {
	key := a.chunkKey(chunkIdx)
	data, err := a.store.Get(ctx, JoinPath(a.root, key))
	if errors.Is(err, ErrNotFound) {
		return a.fillChunk(inner), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", key, err)
	}

	raw, err := a.decodePipeline(data, a.meta.Codecs)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %s: %w", key, err)
	}
	return a.decodeSamples(raw, product(inner))
}

// readShardedChunk fetches one inner chunk of a sharded array: the shard
// index footer locates the inner chunk so only its bytes travel.
func (a *Array) readShardedChunk(ctx context.Context, chunkIdx, inner []int) ([]float64, error) {
	shardShape := a.meta.ShardShape()
	sc := a.meta.shardingCodec()

	shardIdx := make([]int, len(chunkIdx))
	innerIdx := make([]int, len(chunkIdx))
	innerPerDim := make([]int, len(chunkIdx))
	for d := range chunkIdx {
		perDim := shardShape[d] / inner[d]
		if perDim <= 0 {
			return nil, fmt.Errorf("invalid shard layout on axis %d: shard=%d inner=%d", d, shardShape[d], inner[d])
		}
		innerPerDim[d] = perDim
		// chunkIdx counts inner chunks across the whole array.
		shardIdx[d] = chunkIdx[d] / perDim
		innerIdx[d] = chunkIdx[d] % perDim
	}

	shardKey := JoinPath(a.root, a.chunkKey(shardIdx))
	nEntries := product(innerPerDim)
	indexLen := int64(nEntries*16 + 4) // offset/nbytes pairs plus crc32c

	var index []byte
	var err error
	if loc, _ := sc.Configuration["index_location"].(string); loc == "start" {
		index, err = a.store.GetRange(ctx, shardKey, 0, indexLen)
	} else {
		index, err = a.store.GetSuffix(ctx, shardKey, indexLen)
	}
	if errors.Is(err, ErrNotFound) {
		return a.fillChunk(inner), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shard index of %s: %w", shardKey, err)
	}
	if int64(len(index)) != indexLen {
		return nil, fmt.Errorf("short shard index for %s: got %d bytes, expected %d", shardKey, len(index), indexLen)
	}

	body := index[:len(index)-4]
	sum := binary.LittleEndian.Uint32(index[len(index)-4:])
	if crc32.Checksum(body, crc32.MakeTable(crc32.Castagnoli)) != sum {
		return nil, fmt.Errorf("shard index checksum mismatch for %s", shardKey)
	}

	// Row-major entry position of the inner chunk within the shard.
	entry := 0
	for d := range innerIdx {
		entry = entry*innerPerDim[d] + innerIdx[d]
	}
	off := binary.LittleEndian.Uint64(body[entry*16:])
	nbytes := binary.LittleEndian.Uint64(body[entry*16+8:])
	if off == math.MaxUint64 {
		return a.fillChunk(inner), nil
	}

	data, err := a.store.GetRange(ctx, shardKey, int64(off), int64(nbytes))
	if err != nil {
		return nil, fmt.Errorf("read inner chunk %v of %s: %w", innerIdx, shardKey, err)
	}

	innerCodecs := codecList(sc.Configuration["codecs"])
	raw, err := a.decodePipeline(data, innerCodecs)
	if err != nil {
		return nil, fmt.Errorf("decode inner chunk %v of %s: %w", innerIdx, shardKey, err)
	}
	return a.decodeSamples(raw, product(inner))
}

// decodePipeline unwinds a codec pipeline from its outermost (last) codec
// back to raw little-endian bytes.
func (a *Array) decodePipeline(data []byte, codecs []Codec) ([]byte, error) {
	for i := len(codecs) - 1; i >= 0; i-- {
		c := codecs[i]
		switch c.Name {
		case "zstd":
			out, err := a.decoder.DecodeAll(data, nil)
			if err != nil {
				return nil, fmt.Errorf("zstd decompress: %w", err)
			}
			data = out
		case "gzip":
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("gzip decompress: %w", err)
			}
			out, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("gzip decompress: %w", err)
			}
			data = out
		case "crc32c":
			if len(data) < 4 {
				return nil, fmt.Errorf("crc32c codec: payload too short")
			}
			body := data[:len(data)-4]
			sum := binary.LittleEndian.Uint32(data[len(data)-4:])
			if crc32.Checksum(body, crc32.MakeTable(crc32.Castagnoli)) != sum {
				return nil, fmt.Errorf("crc32c checksum mismatch")
			}
			data = body
		case "bytes", "endian":
			if endian, _ := c.Configuration["endian"].(string); endian == "big" {
				data = byteSwap(data, a.dtSize)
			}
		case "sharding_indexed":
			return nil, fmt.Errorf("nested sharding is not supported")
		default:
			return nil, fmt.Errorf("unsupported codec: %s", c.Name)
		}
	}
	return data, nil
}

func (a *Array) decodeSamples(raw []byte, n int) ([]float64, error) {
	if len(raw) < n*a.dtSize {
		return nil, fmt.Errorf("chunk too short: got %d bytes, expected %d", len(raw), n*a.dtSize)
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := decodeScalar(raw[i*a.dtSize:], a.meta.DataType)
		if err != nil {
			return nil, err
		}
		samples[i] = v
	}
	return samples, nil
}

func (a *Array) fillChunk(inner []int) []float64 {
	samples := make([]float64, product(inner))
	if a.fill != 0 {
		for i := range samples {
			samples[i] = a.fill
		}
	}
	return samples
}

// chunkKey renders the storage key for a chunk index per the array's
// chunk_key_encoding.
func (a *Array) chunkKey(idx []int) string {
	sep := a.meta.ChunkKeyEncoding.Configuration.Separator
	if a.meta.ChunkKeyEncoding.Name == "v2" {
		if sep == "" {
			sep = "."
		}
		parts := make([]string, len(idx))
		for i, v := range idx {
			parts[i] = strconv.Itoa(v)
		}
		return strings.Join(parts, sep)
	}
	if sep == "" {
		sep = "/"
	}
	parts := make([]string, len(idx)+1)
	parts[0] = "c"
	for i, v := range idx {
		parts[i+1] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}

func chunkCacheKey(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func codecList(v interface{}) []Codec {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Codec, 0, len(raw))
	for _, e := range raw {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		c := Codec{}
		c.Name, _ = m["name"].(string)
		c.Configuration, _ = m["configuration"].(map[string]interface{})
		out = append(out, c)
	}
	return out
}

func byteSwap(data []byte, size int) []byte {
	if size <= 1 {
		return data
	}
	out := make([]byte, len(data))
	for i := 0; i+size <= len(data); i += size {
		for j := 0; j < size; j++ {
			out[i+j] = data[i+size-1-j]
		}
	}
	return out
}
