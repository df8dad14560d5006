package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind separates transient per-key capacity errors from everything else.
type Kind int

const (
	KindFatal Kind = iota
	KindCapacity
)

func (k Kind) String() string {
	if k == KindCapacity {
		return "capacity"
	}
	return "fatal"
}

// Error is a classified provider error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var capacityMarkers = []string{
	"quota",
	"rate limit",
	"ratelimit",
	"resource exhausted",
	"resource_exhausted",
	"too many requests",
	"429",
}

// Classify wraps err as an *Error for op. Already classified errors are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	return &Error{Kind: kindOf(err), Op: op, Err: err}
}

// IsCapacity reports whether err means the key hit its quota or rate limit.
func IsCapacity(err error) bool {
	if err == nil {
		return false
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == KindCapacity
	}
	return kindOf(err) == KindCapacity
}

func kindOf(err error) Kind {
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return KindCapacity
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return KindCapacity
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range capacityMarkers {
		if strings.Contains(msg, marker) {
			return KindCapacity
		}
	}
	return KindFatal
}
