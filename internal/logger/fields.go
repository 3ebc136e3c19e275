package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID).
	FieldRequestID = "request_id"

	// FieldRefreshID identifies one background refresh cycle.
	FieldRefreshID = "refresh_id"

	// FieldComponent is the component/module name.
	FieldComponent = "component"

	// FieldProfile is the resolved recommendation profile.
	FieldProfile = "profile"

	// FieldLayer is the candidate layer a message relates to.
	FieldLayer = "layer"
)

// Metric fields, attached per entry for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field.
	FieldCount = "count"

	// FieldGeneration is the vector index generation sequence.
	FieldGeneration = "generation"
)
