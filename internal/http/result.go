package httpapi

// Result JSON envelope shared by every API route
// - code: 2000 on success, -1 on error
// - type: 'success' | 'error'
// - message: string
// - result: any (FieldError on validation failures)
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// FieldError names the rejected activation/location/cancel input
type FieldError struct {
	Field string `json:"field"`
}

// Invalid 400 body; result carries the offending field
func Invalid(field, message string) Result[FieldError] {
	return Result[FieldError]{Code: ResultError, Type: "error", Message: message, Result: FieldError{Field: field}}
}
