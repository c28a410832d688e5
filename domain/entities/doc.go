// Package entities provides the core domain types of the parser host: plugin
// descriptors, parse options, parse requests and results, log entries and the
// session lifecycle states. They carry no sandbox or runtime dependencies.
package entities
