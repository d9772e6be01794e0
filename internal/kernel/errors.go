package kernel

import "errors"

// Error taxonomy for the Kernel Driver (spec §7). Each is a distinct
// sentinel so callers can errors.Is/errors.As instead of matching strings.
var (
	// ErrKernelStartFailed is returned by Start when the interpreter binary
	// is missing or the readiness probe deadline passes.
	ErrKernelStartFailed = errors.New("kernel: start failed")

	// ErrKernelCrash is returned when the interpreter subprocess died and
	// automatic restart could not recover it within the retry budget.
	ErrKernelCrash = errors.New("kernel: crashed and could not recover")

	// ErrTimeout marks a cell that exceeded its exec deadline. A timeout
	// always still yields an "Execution timed out" err chunk; this sentinel
	// wraps the error returned alongside the stream's final state.
	ErrTimeout = errors.New("kernel: execution timed out")

	// ErrUnknownKernel is returned for an exec call naming a kernel flavor
	// other than "interp" or "shell".
	ErrUnknownKernel = errors.New("kernel: unknown kernel flavor")

	// ErrStopped is returned by any operation attempted after stop().
	ErrStopped = errors.New("kernel: session is stopped")
)
