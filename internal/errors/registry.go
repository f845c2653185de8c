package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E199)
	// ============================================

	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid server configuration",
		Detail:   "The merged server options are structurally invalid. Check port range, host and HMR settings.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Cannot read configuration file",
		Detail:   "kiln.json could not be read or is not valid JSON.",
	},

	// ============================================
	// Port & Bind Errors (E200-E299)
	// ============================================

	"E211": {
		Category: CategoryPort,
		Message:  "Port unavailable",
		Detail:   "The configured port is already in use and strictPort is enabled. Free the port or disable strictPort.",
	},
	"E212": {
		Category: CategoryPort,
		Message:  "Port retries exhausted",
		Detail:   "No free port was found within the retry window. Free some ports or choose a lower starting port.",
	},
	"E221": {
		Category: CategoryBind,
		Message:  "Address already in use",
		Detail:   "Another process bound the port between probing and binding. Stop the other process or pick a different port.",
	},
	"E222": {
		Category: CategoryBind,
		Message:  "Permission denied binding port",
		Detail:   "Binding to this port requires elevated privileges. Ports below 1024 usually need root.",
	},
	"E223": {
		Category: CategoryBind,
		Message:  "Address not available",
		Detail:   "The configured host is not an address of this machine. Check the host setting.",
	},
	"E224": {
		Category: CategoryBind,
		Message:  "Failed to bind server socket",
		Detail:   "The listen call failed for a reason other than conflict, permission or address availability.",
	},

	// ============================================
	// Compile Errors (E300-E399)
	// ============================================

	"E301": {
		Category: CategoryCompile,
		Message:  "Compilation failed",
		Detail:   "The compiler reported an error. Startup is aborted; fix the build error and retry.",
	},
	"E302": {
		Category: CategoryCompile,
		Message:  "Failed to write resources to disk",
		Detail:   "Compiled resources could not be flushed to the output directory.",
	},

	// ============================================
	// Lifecycle Errors (E400-E499)
	// ============================================

	"E401": {
		Category: CategoryLifecycle,
		Message:  "Listen called before the server was created",
		Detail:   "The socket server does not exist yet. This call is ignored.",
	},
	"E402": {
		Category: CategoryLifecycle,
		Message:  "Close called before the server was created",
		Detail:   "There is no socket server to close. This call is ignored.",
	},

	// ============================================
	// Protocol Errors (E500-E599)
	// ============================================

	"E501": {
		Category: CategoryProtocol,
		Message:  "Malformed hot-reload message",
		Detail:   "A connected client sent a message that could not be decoded. The connection stays open.",
	},
}
