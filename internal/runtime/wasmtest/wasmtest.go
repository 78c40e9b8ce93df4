// Package wasmtest holds small hand-assembled WebAssembly modules that follow
// the lapp call protocol. They let runtime, manager and gateway tests run real
// guest code without a wasm toolchain.
package wasmtest

// Lapp is a complete test lapp.
//
//	(import "lapp" "db_execute" "db_query" "gossip_publish" "log")
//	(memory (export "memory") 1)
//	alloc(len)             -> always 1028
//	echo(ptr, len)         -> frames the argument in place (also p2p_handler, ws_handler)
//	boom(ptr, len)         -> unreachable
//	bad(ptr, len)          -> out-of-bounds result pointer
//	short(ptr, len)        -> 2-byte result
//	spin(ptr, len)         -> infinite loop
//	http_handler(ptr, len) -> {"status":200,"headers":{"content-type":"text/plain"},"body":"hello from wasm"}
//	call_<import>(ptr, len) forwards its argument to the host import and returns the reply
//	init()                 -> no-op
var Lapp = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0f, 0x03, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x60, 0x00, 0x00, 0x02, 0x44, 0x04, 0x04, 0x6c, 0x61, 0x70,
	0x70, 0x0a, 0x64, 0x62, 0x5f, 0x65, 0x78, 0x65, 0x63, 0x75, 0x74, 0x65, 0x00, 0x01, 0x04, 0x6c,
	0x61, 0x70, 0x70, 0x08, 0x64, 0x62, 0x5f, 0x71, 0x75, 0x65, 0x72, 0x79, 0x00, 0x01, 0x04, 0x6c,
	0x61, 0x70, 0x70, 0x0e, 0x67, 0x6f, 0x73, 0x73, 0x69, 0x70, 0x5f, 0x70, 0x75, 0x62, 0x6c, 0x69,
	0x73, 0x68, 0x00, 0x01, 0x04, 0x6c, 0x61, 0x70, 0x70, 0x03, 0x6c, 0x6f, 0x67, 0x00, 0x01, 0x03,
	0x0d, 0x0c, 0x00, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x05, 0x03,
	0x01, 0x00, 0x01, 0x07, 0xa9, 0x01, 0x0f, 0x05, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x04, 0x04,
	0x65, 0x63, 0x68, 0x6f, 0x00, 0x05, 0x0b, 0x70, 0x32, 0x70, 0x5f, 0x68, 0x61, 0x6e, 0x64, 0x6c,
	0x65, 0x72, 0x00, 0x05, 0x0a, 0x77, 0x73, 0x5f, 0x68, 0x61, 0x6e, 0x64, 0x6c, 0x65, 0x72, 0x00,
	0x05, 0x04, 0x62, 0x6f, 0x6f, 0x6d, 0x00, 0x06, 0x03, 0x62, 0x61, 0x64, 0x00, 0x07, 0x05, 0x73,
	0x68, 0x6f, 0x72, 0x74, 0x00, 0x08, 0x04, 0x73, 0x70, 0x69, 0x6e, 0x00, 0x09, 0x0c, 0x68, 0x74,
	0x74, 0x70, 0x5f, 0x68, 0x61, 0x6e, 0x64, 0x6c, 0x65, 0x72, 0x00, 0x0a, 0x0f, 0x63, 0x61, 0x6c,
	0x6c, 0x5f, 0x64, 0x62, 0x5f, 0x65, 0x78, 0x65, 0x63, 0x75, 0x74, 0x65, 0x00, 0x0b, 0x0d, 0x63,
	0x61, 0x6c, 0x6c, 0x5f, 0x64, 0x62, 0x5f, 0x71, 0x75, 0x65, 0x72, 0x79, 0x00, 0x0c, 0x13, 0x63,
	0x61, 0x6c, 0x6c, 0x5f, 0x67, 0x6f, 0x73, 0x73, 0x69, 0x70, 0x5f, 0x70, 0x75, 0x62, 0x6c, 0x69,
	0x73, 0x68, 0x00, 0x0d, 0x08, 0x63, 0x61, 0x6c, 0x6c, 0x5f, 0x6c, 0x6f, 0x67, 0x00, 0x0e, 0x04,
	0x69, 0x6e, 0x69, 0x74, 0x00, 0x0f, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x0a,
	0x76, 0x0c, 0x05, 0x00, 0x41, 0x84, 0x08, 0x0b, 0x1c, 0x00, 0x20, 0x00, 0x41, 0x04, 0x6b, 0x20,
	0x01, 0x36, 0x02, 0x00, 0x20, 0x00, 0x41, 0x04, 0x6b, 0xad, 0x42, 0x20, 0x86, 0x20, 0x01, 0x41,
	0x04, 0x6a, 0xad, 0x84, 0x0b, 0x03, 0x00, 0x00, 0x0b, 0x0d, 0x00, 0x42, 0x90, 0x80, 0x80, 0x80,
	0x80, 0xe0, 0xff, 0xff, 0xff, 0x00, 0x0b, 0x04, 0x00, 0x42, 0x02, 0x0b, 0x08, 0x00, 0x03, 0x40,
	0x0c, 0x00, 0x0b, 0x00, 0x0b, 0x0a, 0x00, 0x42, 0xd3, 0x80, 0x80, 0x80, 0x80, 0x80, 0x02, 0x0b,
	0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b, 0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10,
	0x01, 0x0b, 0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x02, 0x0b, 0x08, 0x00, 0x20, 0x00, 0x20,
	0x01, 0x10, 0x03, 0x0b, 0x02, 0x00, 0x0b, 0x0b, 0x5a, 0x01, 0x00, 0x41, 0x80, 0x10, 0x0b, 0x53,
	0x4f, 0x00, 0x00, 0x00, 0x7b, 0x22, 0x73, 0x74, 0x61, 0x74, 0x75, 0x73, 0x22, 0x3a, 0x32, 0x30,
	0x30, 0x2c, 0x22, 0x68, 0x65, 0x61, 0x64, 0x65, 0x72, 0x73, 0x22, 0x3a, 0x7b, 0x22, 0x63, 0x6f,
	0x6e, 0x74, 0x65, 0x6e, 0x74, 0x2d, 0x74, 0x79, 0x70, 0x65, 0x22, 0x3a, 0x22, 0x74, 0x65, 0x78,
	0x74, 0x2f, 0x70, 0x6c, 0x61, 0x69, 0x6e, 0x22, 0x7d, 0x2c, 0x22, 0x62, 0x6f, 0x64, 0x79, 0x22,
	0x3a, 0x22, 0x68, 0x65, 0x6c, 0x6c, 0x6f, 0x20, 0x66, 0x72, 0x6f, 0x6d, 0x20, 0x77, 0x61, 0x73,
	0x6d, 0x22, 0x7d,
}

// BadInit exports memory, alloc and an init that traps.
var BadInit = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0f, 0x03, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x60, 0x00, 0x00, 0x03, 0x03, 0x02, 0x00, 0x02, 0x05, 0x03,
	0x01, 0x00, 0x01, 0x07, 0x19, 0x03, 0x05, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x00, 0x04, 0x69,
	0x6e, 0x69, 0x74, 0x00, 0x01, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x0a, 0x0b,
	0x02, 0x05, 0x00, 0x41, 0x84, 0x08, 0x0b, 0x03, 0x00, 0x00, 0x0b,
}

// NoMemory exports alloc but no memory.
var NoMemory = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0f, 0x03, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e, 0x60, 0x00, 0x00, 0x03, 0x02, 0x01, 0x00, 0x07, 0x09, 0x01,
	0x05, 0x61, 0x6c, 0x6c, 0x6f, 0x63, 0x00, 0x00, 0x0a, 0x07, 0x01, 0x05, 0x00, 0x41, 0x84, 0x08,
	0x0b,
}

// HTTPBody is the body http_handler in Lapp answers with.
const HTTPBody = "hello from wasm"
