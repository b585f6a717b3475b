// Package adapter defines the contract between the collection core and the
// per-platform HTTP clients.
//
// The core never knows provider specifics: it hands a ClientAdapter an
// abstract CollectConfig and receives either a CollectionResult or one of
// four typed error kinds (InvalidConfigError, CollectionError, QuotaError,
// FatalError). Concrete adapters live in their own packages and install
// themselves into the symbol registry via Register at init time; the
// orchestrator resolves the run config's platform symbols through New.
//
// The built-in Stub adapter synthesizes deterministic items without network
// access and backs test-mode platforms and the test suite.
package adapter
