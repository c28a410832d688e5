// Package ports defines the interfaces between the parser host's application
// logic and its infrastructure. Application code depends on these abstractions;
// the wazero runtime, the manifest parser and the registries implement them.
package ports
