package app

import (
	"errors"
	"fmt"
	"net/http"

	"lexdesk/internal/auth"
	"lexdesk/internal/comments"
	"lexdesk/internal/store"
	"lexdesk/internal/templating"
	"lexdesk/internal/versions"
)

const (
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeLockConflict     = "LOCK_CONFLICT"
	CodeValidation       = "VALIDATION_ERROR"
	CodeVersionNotFound  = "VERSION_NOT_FOUND"
	CodeNotFound         = "NOT_FOUND"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorCode lets transports that only see an error report the code.
func (e *DomainError) ErrorCode() string { return e.Code }

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func permissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, CodePermissionDenied, message, nil)
}

func lockConflict(lockedBy, lockedByName string, remainingSeconds int) *DomainError {
	holder := lockedByName
	if holder == "" {
		holder = lockedBy
	}
	return domainError(http.StatusConflict, CodeLockConflict,
		fmt.Sprintf("document is locked by %s", holder),
		map[string]any{"lockedBy": lockedBy, "lockedByName": lockedByName, "remainingSeconds": remainingSeconds})
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func versionNotFound(versionNumber int) *DomainError {
	return domainError(http.StatusNotFound, CodeVersionNotFound,
		fmt.Sprintf("version %d not found", versionNumber),
		map[string]any{"versionNumber": versionNumber})
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

// IsCode reports whether err is a DomainError with the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}

// translate turns leaf-package errors into DomainErrors. Anything it does
// not recognise is returned unchanged.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	var tplErr *templating.ValidationError
	switch {
	case errors.As(err, &tplErr):
		out := validationError(tplErr.Message)
		if len(tplErr.Missing) > 0 {
			out.Details = map[string]any{"missing": tplErr.Missing}
		}
		return out
	case errors.Is(err, comments.ErrEmptyContent),
		errors.Is(err, comments.ErrParentMismatch),
		errors.Is(err, comments.ErrParentNotTopLevel),
		errors.Is(err, comments.ErrAlreadyResolved),
		errors.Is(err, comments.ErrInvalidRange):
		return validationError(err.Error())
	case errors.Is(err, store.ErrNotFound):
		return notFound(what)
	}
	return err
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, versions.ErrVersionNotFound) {
		return http.StatusNotFound, CodeVersionNotFound, "Version not found", nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return http.StatusConflict, "VERSION_CONFLICT", "Document changed concurrently, reload and retry", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
