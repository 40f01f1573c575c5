// Package config loads addonhook's configuration.
//
// Configuration is layered, higher layers overriding lower:
//
//  1. Built-in defaults (Default)
//  2. The TOML file passed to Load, with its @include files beneath it
//  3. ADDONHOOK_* environment variables
//  4. Command line flags, applied by the caller after Load
//
// A missing file is not an error; the defaults are used. Unknown keys are.
//
// # Sections
//
//	[log]       level, file and rotation of the process log
//	[layout]    the addon object layout of the host build
//	[routing]   which families are intercepted at the call site
//	[resolver]  an optional YAML symbol table
//	[plugins]   the Lua script directory and hot reload
//	[sim]       the simulated host driven by "addonhook simulate"
package config
