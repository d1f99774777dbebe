package limits

// Size limits for API payloads and the registry file itself

const (
	// JSON is the standard size limit for API request/response payloads (1MB)
	JSON = 1 << 20

	// ErrorBody is the maximum size for error response bodies (1KB)
	// Used when parsing error messages from failed API calls
	ErrorBody = 1024

	// Registry is the maximum registry file size the parser accepts (8MB).
	// A registry past this size is almost certainly not a document sitekit
	// wrote; refusing early keeps mutations from ever rewriting it.
	Registry = 8 << 20
)
