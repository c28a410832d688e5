// Package hostfuncs implements the host functions offered to reactor-model
// parser guests as plain Go: a registry of named byte handlers, middleware,
// structured error responses and the read_file handler with its path policy.
// Nothing here depends on a WASM runtime; infrastructure/wazero binds the
// registry to guest memory.
package hostfuncs
