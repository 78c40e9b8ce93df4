/*
Package runtime is the Instance Runtime: it hosts one lapp's WebAssembly
module on wazero and mediates every call into and out of it.

# Call Protocol

A lapp module exports:

	memory                       linear memory
	alloc(len i32) -> i32        buffer for host-written data
	dealloc(ptr i32, len i32)    optional, returns buffers
	init()                       optional, run once after instantiation
	<handler>(ptr, len) -> i64   http_handler, ws_handler, p2p_handler, ...

The host writes the argument bytes at alloc(len) and calls the handler.
The handler returns ptr<<32 | len of a result buffer laid out as a
little-endian u32 payload length followed by the payload. Any buffer that
is out of bounds, shorter than four bytes or whose prefix disagrees with
its length is ErrResultMalformed.

# Host Functions

The "lapp" import module offers log, db_execute, db_query, http_fetch,
fs_read, fs_list, fs_write and gossip_publish with the same (ptr, len) -> i64
shape and JSON payloads. All of them go through Host.Call, which checks the
Permission Gate before touching any backend; a denial is an ordinary
{"ok":false,"denied":true} reply.

# Faults

Traps are reported as *TrapError and leave the instance usable. When wazero
closed the module (proc_exit, or the invoke budget expired) the instance is
poisoned and every later Invoke returns ErrPoisoned until the owner reloads
it.
*/
package runtime
