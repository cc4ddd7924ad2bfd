/*
Package config loads runtime configuration from FORAGER_* environment
variables and data-source definitions from a YAML recipe file. The
environment selects infrastructure (storage backend, state store,
credential provider, concurrency); recipes declare what to fetch (a
loader plus its locators). Invalid or missing variables fall back to
defaults; a malformed recipe file fails loading outright.
*/
package config
