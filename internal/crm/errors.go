package crm

import (
	"errors"

	"github.com/fentz26/dealdesk/internal/inflight"
)

// Sentinel errors for service operations.
var (
	ErrNoop                   = errors.New("nothing to change")
	ErrBusy                   = inflight.ErrBusy
	ErrNotFound               = errors.New("resource not found")
	ErrInvalid                = errors.New("invalid request")
	ErrStageNotEmpty          = errors.New("stage still holds deals")
	ErrAttachmentsUnavailable = errors.New("attachments need storage, which is not configured")
)
