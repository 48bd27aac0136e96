package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid          ErrorCode = "invalid"
	ErrorNotFound         ErrorCode = "not_found"
	ErrorConflict         ErrorCode = "conflict"
	ErrorConcurrentUpdate ErrorCode = "concurrent_update"
)

var (
	// ErrInvalidAnswerValue is returned when a raw value cannot be parsed for the question type.
	ErrInvalidAnswerValue = errors.New("invalid answer value")
	// ErrInvalidOptionSelected is returned when a CUSTOMIZED answer names an unknown option.
	ErrInvalidOptionSelected = errors.New("invalid option selected")
	ErrQuestionNotFound      = errors.New("question not found")
	ErrAssessmentNotFound    = errors.New("assessment not found")
	ErrMatrixNotFound        = errors.New("matrix not found")
	// ErrDuplicateEmployeeAssessment flags a second invitation of the same email to a matrix.
	ErrDuplicateEmployeeAssessment = errors.New("employee assessment already exists")
	// ErrConcurrentUpdateConflict is returned once optimistic retries are exhausted.
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")
)

// ServiceError carries a caller-facing code. Err, when set, is one of the
// sentinels above so callers can match with errors.Is.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }

func invalidAnswer(msg string) error {
	return &ServiceError{Code: ErrorInvalid, Message: "invalid answer value: " + msg, Err: ErrInvalidAnswerValue}
}

func invalidOption(optionID string) error {
	return &ServiceError{Code: ErrorInvalid, Message: "invalid option selected: " + optionID, Err: ErrInvalidOptionSelected}
}

func questionNotFound(id string) error {
	return &ServiceError{Code: ErrorNotFound, Message: "question not found: " + id, Err: ErrQuestionNotFound}
}

func assessmentNotFound(id string) error {
	return &ServiceError{Code: ErrorNotFound, Message: "assessment not found: " + id, Err: ErrAssessmentNotFound}
}

func matrixNotFound(id string) error {
	return &ServiceError{Code: ErrorNotFound, Message: "matrix not found: " + id, Err: ErrMatrixNotFound}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
