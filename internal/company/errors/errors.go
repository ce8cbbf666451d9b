package errors

import (
	"fmt"
)

var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrValidation     = fmt.Errorf("validation failed")
	ErrPrimaryWrite   = fmt.Errorf("primary write failed")
	ErrIDResolution   = fmt.Errorf("could not determine created company id")
	ErrDeleteGuard    = fmt.Errorf("employee delete rejected by backend")
	ErrSaveInProgress = fmt.Errorf("save already in progress")
	ErrUnauthorized   = fmt.Errorf("unauthorized")
)
