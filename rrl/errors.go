package rrl

import "errors"

// Error taxonomy for the RRL service. All are sentinel errors suitable for
// errors.Is; operations wrap them with fmt.Errorf("%w: ...") for context.
var (
	ErrRejected            = errors.New(`rrl: rejected`)
	ErrQueueFull           = errors.New(`rrl: queue full`)
	ErrTimeout             = errors.New(`rrl: timeout`)
	ErrAttemptsExhausted   = errors.New(`rrl: attempts exhausted`)
	ErrCancelled           = errors.New(`rrl: cancelled`)
	ErrShutdownInProgress  = errors.New(`rrl: shutdown in progress`)
	ErrProcessorFatal      = errors.New(`rrl: processor fatal`)
	ErrInternal            = errors.New(`rrl: internal`)
	ErrConfigurationInvalid = errors.New(`rrl: configuration invalid`)
)
