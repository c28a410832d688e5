// Package wazero binds the host functions offered to reactor-model parser
// guests to a wazero runtime.
//
// JSON host functions from a hostfuncs.HandlerRegistry use the packed i64
// convention: the guest passes (ptr<<32 | len) of a request, the host reads
// it, invokes the handler, allocates the response through the guest's alloc
// export and returns the packed location of the response.
//
// Functions that do not fit that shape, such as write_log and get_time, are
// registered as CustomHandler values:
//
//	guestLog := wazero.NewGuestLogger(logger, 100, 50)
//	err := wazero.RegisterWithRuntime(ctx, rt, registry,
//	    wazero.WithCustomHandler(guestLog.Handler()),
//	    wazero.WithCustomHandler(wazero.GetTimeHandler(time.Now)),
//	)
package wazero
