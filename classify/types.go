// Package classify maps raw failures into a fixed taxonomy used to drive
// retry policy selection and user-facing messaging.
package classify

// ErrorType is the finite taxonomy of recognized failure types.
type ErrorType string

const (
	TokenExpired           ErrorType = "token-expired"
	InvalidToken           ErrorType = "invalid-token"
	InsufficientPermission ErrorType = "insufficient-permission"
	InsufficientScope      ErrorType = "insufficient-scope"
	RateLimited            ErrorType = "rate-limited"
	NetworkError           ErrorType = "network-error"
	ValidationError        ErrorType = "validation-error"
	InternalError          ErrorType = "internal-error"
)

// Category groups error types by the kind of action needed to resolve them.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryPermission     Category = "permission"
	CategoryAvailability   Category = "availability"
	CategoryValidation     Category = "validation"
	CategoryInternal       Category = "internal"
)

// Severity represents the severity level of a classified failure.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Resolution is a suggested remediation, ordered by success probability.
type Resolution struct {
	Action      string
	Description string
	Probability float64
}

// Classification is the immutable result produced for one failure
// occurrence.
type Classification struct {
	Type        ErrorType
	Category    Category
	Severity    Severity
	Retryable   bool
	UserMessage string
	Resolutions []Resolution
}

// Context carries caller-supplied metadata about the failed operation.
type Context struct {
	Subject   string
	Operation string
}
