package loader

import "errors"

// Loader errors.
var (
	// ErrTensorNotFound is returned when a tensor name is not in the checkpoint.
	ErrTensorNotFound = errors.New("tensor not found")

	// ErrUnsupportedDType is returned for source dtypes with no spec equivalent.
	ErrUnsupportedDType = errors.New("unsupported dtype")

	// ErrNoCheckpoint is returned when a directory holds no safetensors weights.
	ErrNoCheckpoint = errors.New("no safetensors checkpoint found")

	// ErrUnknownArchitecture is returned by GetMapper for architectures without a mapper.
	ErrUnknownArchitecture = errors.New("unknown architecture")
)
