// Package types defines the core data model shared across Magpie packages.
//
// The package contains plain records with no behavior: tasks, posts, users,
// comments, collection results, catalog entries, and the status enums that
// drive the task lifecycle. All external shapes are validated at the boundary
// (pkg/parser, pkg/config); once a value carries one of these types its
// fields are trusted.
package types
