// Package storage provides Lapp Storage: one SQLite database per lapp.
//
// The database lives at {data_dir}/{lapp}/lapp.db and is addressed only by
// the owning lapp's name. It is opened when the lapp is loaded and closed
// when it is unloaded; the file itself is tied to the installation and
// survives any number of unload/reload cycles. Remove deletes it together
// with the rest of the lapp's data directory.
//
// Every statement carries a bounded timeout.
//
// Example Usage:
//
//	store, err := storage.Open(dataDir, "notes", 5*time.Second)
//	_, err = store.Execute(ctx, "INSERT INTO notes(text) VALUES (?)", "hello")
//	rows, err := store.Query(ctx, "SELECT text FROM notes")
package storage
