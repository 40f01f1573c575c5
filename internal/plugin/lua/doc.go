// Package lua runs lifecycle listeners written in Lua.
//
// Each script gets its own sandboxed State: only the base, table, string
// and math libraries are open, and file loading is removed. A script
// registers listeners through the global lifecycle module:
//
//	local token = lifecycle.on("PreShow", "Inventory", function(kind, args)
//	    args.open_silently = true
//	end)
//
//	lifecycle.on("PostDraw", function(kind, args)
//	    log.debug("drawn", { addon = args.addon_name })
//	end)
//
//	lifecycle.off(token)
//
// The target argument is optional; without it the listener sees every addon.
// Argument objects expose the call parameters as snake_case fields. Writes
// to mutable fields during a Pre event change what the original function
// receives; read-only fields raise an error when assigned. An argument
// object is only valid during the callback it was passed to.
//
// print and the log module write to the host's zerolog logger.
//
// Closing a Host unregisters every listener its script registered.
package lua
