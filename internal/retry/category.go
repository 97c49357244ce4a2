// Package retry wraps operations with timeout, categorised retry,
// exponential backoff, circuit breaking per external-service key,
// checkpoint-gated resume, and escalation reporting.
package retry

// Category classifies an operation failure so the executor knows
// whether, and how, to retry it.
type Category string

const (
	// CategoryTransient covers network, rate-limit, and temporary
	// unavailability errors. Retried with exponential backoff.
	CategoryTransient Category = "transient"
	// CategoryRecoverable covers test/lint/build/type errors. Retried only
	// after a caller-supplied fixer reports progress.
	CategoryRecoverable Category = "recoverable"
	// CategoryFatal covers missing dependency, permission denied, corrupt
	// state, and context-window overflow. Never retried; escalates
	// immediately.
	CategoryFatal Category = "fatal"
)

// CategorizedError pairs an underlying error with its retry category.
// Operations should return one to signal how the layer should respond;
// an error that isn't a *CategorizedError is treated as fatal.
type CategorizedError struct {
	Category    Category
	Err         error
	Retryable   bool // overridden false forces no retry regardless of category
}

func (e *CategorizedError) Error() string { return e.Err.Error() }
func (e *CategorizedError) Unwrap() error { return e.Err }

// Transient wraps err as a transient, retryable failure.
func Transient(err error) *CategorizedError {
	return &CategorizedError{Category: CategoryTransient, Err: err, Retryable: true}
}

// Recoverable wraps err as a recoverable failure requiring a fix attempt.
func Recoverable(err error) *CategorizedError {
	return &CategorizedError{Category: CategoryRecoverable, Err: err, Retryable: true}
}

// Fatal wraps err as a fatal, non-retryable failure.
func Fatal(err error) *CategorizedError {
	return &CategorizedError{Category: CategoryFatal, Err: err, Retryable: false}
}

// categorize extracts the Category from err, defaulting unrecognized
// errors to fatal (unrecognized propagates as the most
// conservative category).
func categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var ce *CategorizedError
	if as(err, &ce) {
		return ce
	}
	return Fatal(err)
}

func as(err error, target **CategorizedError) bool {
	for err != nil {
		if ce, ok := err.(*CategorizedError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
