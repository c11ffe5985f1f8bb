package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 领域错误：handlers 通过 errors.Is 映射为 HTTP 状态码与错误码。
var (
	ErrNotFound          = errors.New("not_found")
	ErrValidation        = errors.New("invalid_request")
	ErrConflict          = errors.New("conflict")
	ErrSlotUnavailable   = errors.New("slot_unavailable")
	ErrTokenInvalid      = errors.New("invalid_token")
	ErrTokenExpired      = errors.New("token_expired")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrBadCredentials    = errors.New("bad_credentials")
	ErrMFARequired       = errors.New("mfa_required")
	ErrMFAInvalid        = errors.New("invalid_code")
	ErrWeatherDisabled   = errors.New("weather_disabled")
	ErrUpstream          = errors.New("upstream_error")
)

// ValidationError 携带具体字段，Unwrap 为 ErrValidation。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// notFound 将 gorm.ErrRecordNotFound 转换为 ErrNotFound，其它错误原样返回。
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
