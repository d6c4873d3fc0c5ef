package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Problem errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Contest errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	ConcurrentUpdate    ErrorCode = 10104

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound       ErrorCode = 12000
	ProblemHasNoTestcases ErrorCode = 12104

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004
	SubmissionAccessDenied ErrorCode = 13006

	// Judge (13100-13199)
	JudgeSystemError     ErrorCode = 13101
	ExecutionNotFound    ErrorCode = 13107
	DispatchRejected     ErrorCode = 13108
	CallbackTokenInvalid ErrorCode = 13109

	// ========== Contest Errors (14000-14999) ==========

	// Contest basic (14000-14099)
	ContestNotFound     ErrorCode = 14000
	ContestNotStarted   ErrorCode = 14001
	ContestEnded        ErrorCode = 14002
	ContestAccessDenied ErrorCode = 14003
	ProblemNotInContest ErrorCode = 14006

	// Registration (14100-14199)
	NotRegistered ErrorCode = 14103

	// Ranking (14200-14299)
	RankingNotAvailable ErrorCode = 14200
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	ConcurrentUpdate:    "Record was modified concurrently",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Problem
	ProblemNotFound:       "Problem not found",
	ProblemHasNoTestcases: "Problem has no testcases",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	SubmissionAccessDenied: "Access to this submission is denied",

	// Judge
	JudgeSystemError:     "Judge system error",
	ExecutionNotFound:    "Execution not found",
	DispatchRejected:     "Execution service rejected the request",
	CallbackTokenInvalid: "Invalid callback token",

	// Contest
	ContestNotFound:     "Contest not found",
	ContestNotStarted:   "Contest has not started yet",
	ContestEnded:        "Contest has ended",
	ContestAccessDenied: "Access to this contest is denied",
	ProblemNotInContest: "Problem is not part of this contest",
	NotRegistered:       "Not registered for this contest",

	// Ranking
	RankingNotAvailable: "Ranking is not available",
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
	case c == Unauthorized, c == CallbackTokenInvalid:
		return 401
	case c == Forbidden, c == SubmissionAccessDenied, c == ContestAccessDenied,
		c == NotRegistered, c == RankingNotAvailable:
		return 403
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == SubmissionNotFound,
		c == ContestNotFound, c == ExecutionNotFound:
		return 404
	case c == RecordAlreadyExists:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == ProblemHasNoTestcases,
		c == ContestNotStarted, c == ContestEnded, c == ProblemNotInContest:
		return 400
	default:
		return 500
	}
}
