// Package ingest routes declarative task payloads from the inbound task
// directory, the CLI, and the HTTP API to the platform managers. Fully
// accepted task files can be moved aside; partially accepted ones stay
// for the operator.
package ingest
