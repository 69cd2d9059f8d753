package output

import "fmt"

// ConfigurationError reports parameters the pipeline cannot start with.
type ConfigurationError struct {
	Param string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("output: invalid %s: %v", e.Param, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AllocationError reports that the worker could not get its buffer.
type AllocationError struct {
	Size int
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("output: allocating %d byte work buffer: %v", e.Size, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// FeedError reports a decoded frame that did not reach the display.
type FeedError struct {
	Op  string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("output: feed %s: %v", e.Op, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }
