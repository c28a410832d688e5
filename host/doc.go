// Package host loads parser artifacts into isolated wazero instances.
//
// A Runtime holds what instances share: the compilation cache, host limits,
// the logger and the clock reactor guests read through get_time. A Loader
// turns a PluginDescriptor into an Instance, checking the ABI header, the
// required exports and the permitted imports before anything runs. Each
// Instance owns its own wazero runtime, so closing it releases the guest's
// memory and host module together.
package host
