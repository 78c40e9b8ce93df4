package runtime

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Guest exports every lapp module must provide
const (
	ExportMemory  = "memory"
	ExportAlloc   = "alloc"
	ExportDealloc = "dealloc"
	ExportInit    = "init"
)

// Well-known handler exports
const (
	HTTPHandler = "http_handler"
	WSHandler   = "ws_handler"
	P2PHandler  = "p2p_handler"
)

// prefixSize is the little-endian u32 payload length heading every result
const prefixSize = 4

func packPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpackPtrLen(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}

// frame lays out payload the way handlers return results
func frame(payload []byte) []byte {
	buf := make([]byte, prefixSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[prefixSize:], payload)
	return buf
}

// unframe validates a result buffer and returns a copy of its payload
func unframe(buf []byte) ([]byte, error) {
	if len(buf) < prefixSize {
		return nil, malformed("result of %d bytes is shorter than its length prefix", len(buf))
	}
	declared := binary.LittleEndian.Uint32(buf)
	if uint64(declared) != uint64(len(buf)-prefixSize) {
		return nil, malformed("length prefix %d does not match payload of %d bytes", declared, len(buf)-prefixSize)
	}
	out := make([]byte, declared)
	copy(out, buf[prefixSize:])
	return out, nil
}

// readResult reads and validates the buffer a handler pointed at
func readResult(mem api.Memory, packed uint64) ([]byte, error) {
	ptr, length := unpackPtrLen(packed)
	if length < prefixSize {
		return nil, malformed("result length %d", length)
	}
	buf, ok := mem.Read(ptr, length)
	if !ok {
		return nil, malformed("result [%d, +%d) outside of %d bytes of memory", ptr, length, mem.Size())
	}
	return unframe(buf)
}

// writeGuest copies data into memory obtained from the guest allocator
func writeGuest(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	alloc := mod.ExportedFunction(ExportAlloc)
	if alloc == nil {
		return 0, fmt.Errorf("%w: missing %q export", ErrInvalidModule, ExportAlloc)
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, malformed("alloc returned %d values", len(res))
	}
	ptr := api.DecodeU32(res[0])
	if len(data) > 0 && !mod.Memory().Write(ptr, data) {
		return 0, malformed("alloc returned [%d, +%d) outside of memory", ptr, len(data))
	}
	return ptr, nil
}
