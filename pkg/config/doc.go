// Package config loads and validates the Magpie run configuration.
//
// The run configuration is a single YAML file naming the platform clients,
// their store locations, pacing parameters, and daemon settings. Validation
// happens once at load time; the rest of the system treats Config fields as
// trusted.
package config
