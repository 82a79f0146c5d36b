package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrUnsupportedFormat  = fmt.Errorf("unsupported config format")

	// Remote service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrWorkItemNotFound   = fmt.Errorf("work item not found")
	ErrAttachmentTooLarge = fmt.Errorf("attachment exceeds maximum size")
	ErrInvalidQuery       = fmt.Errorf("invalid work item query")
	ErrPagingStalled      = fmt.Errorf("query paging did not advance")

	// Retry errors
	ErrRetryExhausted = fmt.Errorf("retry attempts exhausted")

	// Run errors. Anything wrapping ErrFatal aborts the whole run.
	ErrFatal                 = fmt.Errorf("fatal migration error")
	ErrResponseCountMismatch = fmt.Errorf("%w: batch response count mismatch", ErrFatal)
	ErrRecordNotFound        = fmt.Errorf("migration record not found")
	ErrIdentityChanged       = fmt.Errorf("migration record identity is immutable")
	ErrRunNotFound           = fmt.Errorf("migration run not found")

	// Database errors
	ErrNoMigrations = fmt.Errorf("no migrations to rollback")

	// Notification errors
	ErrNotificationFailed = fmt.Errorf("notification delivery failed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
