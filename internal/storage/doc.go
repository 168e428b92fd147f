package storage

// Package storage provides the persistence layer used by the machine.
//
// It currently supports:
//   - Save slots (opaque string values keyed by slot name, for os.save/os.load)
//   - Crash audit rows (what killed the machine, with the screen contents)
