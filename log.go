package stage

// Lifecycle Messages
const (
	logRoleInitialized   = "Role initialized"
	logRoleInitFailed    = "Role initialization failed"
	logRoleStarted       = "Role started"
	logRoleStopped       = "Role stopped"
	logRoleFailed        = "Role stopped with error"
	logClosingBeforeRun  = "Closing role after initialization and before start"
	logMetricsInitFailed = "Failed to initialize role metrics"
)

// Debug Messages
const (
	logStateTransition        = "State transition"
	logStateTransitionRefused = "State transition refused"
)

// Exported messages shared by the roles, so that every role reports the
// same event with the same text.
const (
	LogListening         = "Listening"
	LogAccepted          = "Accepted upstream connection"
	LogConnected         = "Connected downstream"
	LogFramingError      = "Framing error on inbound stream, stopping"
	LogSendError         = "Error encountered while sending batch, stopping"
	LogReportError       = "Error encountered while sending status report, continuing"
	LogStatusReported    = "Status reported"
	LogBatchDropped      = "Worker queue full, batch discarded"
	LogSampleMismatch    = "Sampled result does not match recomputation"
	LogSampleMatch       = "Sampled result verified"
	LogDatagramDropped   = "Dropping datagram with unknown tag"
	LogDatagramReadError = "Error encountered while reading datagram, continuing"
)
