// Package filesystem provides the per-lapp file sandbox behind the
// file-read and file-write capabilities.
//
// Each lapp gets {data_dir}/{lapp}/files. Guest paths are always relative
// to that directory; absolute paths, ".." traversal and symlinks pointing
// outside are rejected with ErrOutsideSandbox. Reads and writes are capped
// at a configurable size.
//
// Listing walks the sandbox with fastwalk and filters with doublestar
// patterns such as "notes/**/*.md".
//
// Example Usage:
//
//	box, err := filesystem.Open(dataDir, "notes", 0)
//	err = box.Write(ctx, "drafts/today.md", []byte("# hi"), false)
//	entries, err := box.List(ctx, "**/*.md")
package filesystem
