// Package hook models installed function hooks.
//
// Installing a detour at an address is an external capability described by
// Installer and Handle. Hook wraps a Handle with an explicit lifecycle:
//
//	Uninstalled -> Disabled -> Enabled
//	     ^            |           |
//	     +--- Dispose +-----------+
//
// Enable and Disable are idempotent, so callers can drive them from listener
// counts without tracking the previous state themselves.
package hook
