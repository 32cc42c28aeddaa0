package core

import "errors"

var (
	// ErrAlreadyRunning is returned by a second Run.
	ErrAlreadyRunning = errors.New("core: streamer already running")

	// ErrNotRunning is returned by requests made outside Run.
	ErrNotRunning = errors.New("core: streamer not running")

	// ErrEncoderClosed means the encoder output channel closed mid-stream.
	ErrEncoderClosed = errors.New("core: encoder output closed")
)
