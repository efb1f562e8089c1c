package scheduling

import (
	"errors"
	"fmt"
)

const (
	CodeValidation    = "validation"
	CodeNotFound      = "not_found"
	CodeLinkExpired   = "link_expired"
	CodeNoSurveyItems = "no_survey_items"
	CodeNoResponse    = "no_response"
	CodeInvalidDeal   = "invalid_deal"
	CodeInternal      = "internal"
)

// Error is an expected business outcome. Anything that is not an *Error is
// an infrastructure fault.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation:
		return 400
	case CodeLinkExpired:
		return 403
	case CodeNotFound, CodeNoSurveyItems, CodeNoResponse, CodeInvalidDeal:
		return 404
	default:
		return 500
	}
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: statusForCode(code)}
}

func NewValidationError(format string, args ...any) error {
	return newError(CodeValidation, fmt.Sprintf(format, args...))
}

func NewValidationJSONError(err error) error {
	return newError(CodeValidation, "invalid json: "+err.Error())
}

func NewInternalError(message string) error {
	return newError(CodeInternal, message)
}

func errNotFound(dealID string) error {
	return newError(CodeNotFound, "invalid deal_id: "+dealID)
}

func errLinkExpired() error {
	return newError(CodeLinkExpired, "this link has expired")
}

func errNoSurveyItems(industry, revenue string) error {
	return newError(CodeNoSurveyItems, fmt.Sprintf("no survey items found for industry=%q revenue=%q", industry, revenue))
}

func errInvalidDeal(dealID string) error {
	return newError(CodeInvalidDeal, "invalid deal_id: "+dealID)
}

func errNoResponse(dealID string) error {
	return newError(CodeNoResponse, "no customer response found for deal_id: "+dealID)
}

// CodeOf returns the taxonomy code of err, or CodeInternal for faults.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

func IsCode(err error, code string) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}
