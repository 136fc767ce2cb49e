package logging

// LogEntry represents a structured log record.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Engine-specific fields
	Domain  string // Playbook domain the operation ran against
	Latency int64  // Operation duration in milliseconds

	// General structured data
	Fields map[string]interface{}
}
