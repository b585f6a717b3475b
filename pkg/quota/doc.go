// Package quota persists per-platform quota halts across process restarts.
//
// A quota halt is a time-bounded embargo on calling a provider, installed
// when an adapter reports a quota error. The registry is a small JSON file
// ({"<platform>": <epoch_seconds>}) written with an atomic temp-file rename;
// atomic rename is the only synchronization primitive needed because the
// orchestrator is the single writer.
package quota
