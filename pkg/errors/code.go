package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Channel & Session errors
// 12000-12999: Batch & TestCase errors
// 13000-13999: Sandbox execution errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10004
	ServiceUnavailable  ErrorCode = 10005
	Timeout             ErrorCode = 10006

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// ========== Channel & Session Errors (11000-11999) ==========

	SessionClosed       ErrorCode = 11000
	MessageDecodeFailed ErrorCode = 11001
	UnsupportedMessage  ErrorCode = 11002
	EmitAfterCancel     ErrorCode = 11003
	PublishFailed       ErrorCode = 11004

	// ========== Batch & TestCase Errors (12000-12999) ==========

	BatchNotFound       ErrorCode = 12000
	BatchCancelled      ErrorCode = 12001
	NoTestsProvided     ErrorCode = 12002
	InvalidTestCategory ErrorCode = 12003
	DuplicateTestCase   ErrorCode = 12004
	TestCodeTooLarge    ErrorCode = 12005

	// ========== Sandbox Execution Errors (13000-13999) ==========

	// Scheduling (13000-13099)
	SchedulingFailed   ErrorCode = 13000
	QuotaExceeded      ErrorCode = 13001
	ImageUnavailable   ErrorCode = 13002
	PermissionRejected ErrorCode = 13003

	// Execution (13100-13199)
	ExecutionFailed  ErrorCode = 13100
	ExecutionTimeout ErrorCode = 13101
	SandboxPoolFull  ErrorCode = 13102
	OutputTruncated  ErrorCode = 13103

	// Decode & cleanup (13200-13299)
	DecodeAmbiguous ErrorCode = 13200
	ReclaimFailed   ErrorCode = 13201
	SweepFailed     ErrorCode = 13202
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Channel & Session
	SessionClosed:       "Session is closed",
	MessageDecodeFailed: "Failed to decode channel message",
	UnsupportedMessage:  "Unsupported message type",
	EmitAfterCancel:     "Batch is cancelled, emission suppressed",
	PublishFailed:       "Failed to publish event",

	// Batch & TestCase
	BatchNotFound:       "Batch not found",
	BatchCancelled:      "Batch has been cancelled",
	NoTestsProvided:     "No tests provided",
	InvalidTestCategory: "Unknown test category",
	DuplicateTestCase:   "Duplicate test case id in batch",
	TestCodeTooLarge:    "Test code is too large",

	// Sandbox scheduling
	SchedulingFailed:   "Sandbox could not be scheduled",
	QuotaExceeded:      "Cluster resource quota exceeded",
	ImageUnavailable:   "Sandbox image unavailable",
	PermissionRejected: "Cluster rejected the request",

	// Execution
	ExecutionFailed:  "Test execution failed",
	ExecutionTimeout: "Execution exceeded time limit",
	SandboxPoolFull:  "Sandbox pool is full, please try again later",
	OutputTruncated:  "Captured output exceeded the size cap",

	// Decode & cleanup
	DecodeAmbiguous: "Sandbox output could not be decoded",
	ReclaimFailed:   "Failed to reclaim sandbox object",
	SweepFailed:     "Orphan sweep failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == BatchNotFound:
		return 404
	case c == TooManyRequests, c == SandboxPoolFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c >= 12002 && c <= 12005:
		return 400
	default:
		return 500
	}
}
