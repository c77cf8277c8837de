package server

import "errors"

var (
	ErrServerStartFailed  = errors.New("failed to start server")
	ErrServerStopFailed   = errors.New("failed to stop server")
	ErrInvalidPayloadType = errors.New("invalid payload type for message")
)
