// Package transcript persists branch conversation histories.
//
// A Branch configured with a persist path saves its message history after
// every chat call through a Store. Two stores are provided: JSONStore writes
// one <branch-id>.json file per branch into a directory, SQLiteStore keeps all
// transcripts in a single SQLite database (pure Go driver, WAL mode).
package transcript
