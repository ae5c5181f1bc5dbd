package maildrop

import "errors"

var (
	ErrServerClosed      = errors.New("smtp: server closed")
	ErrServerRunning     = errors.New("smtp: server already running")
	ErrNoWorkers         = errors.New("smtp: at least one worker is required")
	ErrNoListeners       = errors.New("smtp: no listen addresses configured")
	ErrNotListening      = errors.New("smtp: server is not listening")
	ErrControlChannel    = errors.New("smtp: control channel failure")
	ErrTooManyRecipients = errors.New("smtp: too many recipients")
	ErrHostnameRequired  = errors.New("smtp: hostname is required")
)
