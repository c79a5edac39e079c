package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category groups fetch failures for metrics and retry decisions.
type Category string

const (
	CategoryTimeout     Category = "timeout"
	CategoryConnection  Category = "connection"
	CategoryForbidden   Category = "forbidden"
	CategoryNotFound    Category = "not_found"
	CategoryRateLimited Category = "rate_limited"
	CategoryServer      Category = "server"
	CategoryOther       Category = "other"
)

// FetchError is a classified failure to fetch a page.
type FetchError struct {
	Category Category
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Category)
	}
	return string(CategoryOther)
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Category {
	case CategoryTimeout, CategoryConnection, CategoryRateLimited, CategoryServer:
		return true
	}
	return false
}

// classifyError maps a transport error or HTTP status to a *FetchError.
// Cancellation is returned unchanged and a 2xx status without error is nil.
func classifyError(err error, statusCode int) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Category: CategoryTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Category: CategoryTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &FetchError{Category: CategoryConnection, Err: err}
	}

	if statusCode == 0 || (statusCode >= 200 && statusCode < 300) {
		return err
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}
	switch {
	case statusCode == http.StatusForbidden:
		return &FetchError{Category: CategoryForbidden, Err: err}
	case statusCode == http.StatusNotFound:
		return &FetchError{Category: CategoryNotFound, Err: err}
	case statusCode == http.StatusTooManyRequests:
		return &FetchError{Category: CategoryRateLimited, Err: err}
	case statusCode >= http.StatusInternalServerError:
		return &FetchError{Category: CategoryServer, Err: err}
	}
	return err
}
