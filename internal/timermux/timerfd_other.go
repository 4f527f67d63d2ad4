//go:build !linux

package timermux

// NewTimerFD is only available on Linux.
func NewTimerFD(Options) (Multiplexer, error) {
	return nil, ErrUnsupported
}
