package tasking

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by capabilities the CI plugin does not provide.
var ErrNotImplemented = errors.New("capability not implemented")

// FailureCategory distinguishes classified failures in logs.
type FailureCategory string

const (
	CategoryPermission    FailureCategory = "permission"
	CategoryConfiguration FailureCategory = "configuration"
)

// ClassifiedFailure is a capability failure carrying the status code to report.
type ClassifiedFailure struct {
	Code     int
	Category FailureCategory
	Message  string
}

func (f *ClassifiedFailure) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("%s error %d: %s", f.Category, f.Code, f.Message)
	}
	return fmt.Sprintf("%s error %d", f.Category, f.Code)
}

// PermissionDenied returns a permission failure reported with code.
func PermissionDenied(code int) error {
	return &ClassifiedFailure{Code: code, Category: CategoryPermission}
}

// ConfigurationError returns a configuration failure reported with code.
func ConfigurationError(code int) error {
	return &ClassifiedFailure{Code: code, Category: CategoryConfiguration}
}
