package ir

// Version constants for the document format and engine.
const (
	// DocumentVersion is the query document format version.
	DocumentVersion = "1"

	// EngineVersion is the liveq engine version.
	EngineVersion = "0.1.0"
)
