package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrActorRequired = errors.New("actor is required")
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// ValidationError: ошибка входных данных, исправляемая клиентом.
// Fields: путь поля (json) -> сообщение.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("status transition %s -> %s is not allowed", e.From, e.To)
}

// PersistenceError: транзакция не закоммитилась (в т.ч. после ретраев).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type LabelProviderError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *LabelProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("label provider %s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("label provider %s: http %d: %s", e.Provider, e.Status, e.Body)
}

func (e *LabelProviderError) Unwrap() error { return e.Err }

// MailDeliveryError: SMTP-диалог упал на шаге Step.
// Code = 0, если ответа сервера не было (сетевая ошибка).
type MailDeliveryError struct {
	Step    string
	Code    int
	Message string
	Err     error
}

func (e *MailDeliveryError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("smtp %s: %d %s", e.Step, e.Code, e.Message)
	}
	return fmt.Sprintf("smtp %s: %v", e.Step, e.Err)
}

func (e *MailDeliveryError) Unwrap() error { return e.Err }

type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration missing: %s", e.Setting)
}
