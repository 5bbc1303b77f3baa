//go:build !windows

package outlook

// COMSetup is a no-op off Windows; the transport constructor fails instead.
func COMSetup() error { return nil }

// COMTeardown is a no-op off Windows.
func COMTeardown() {}

// NewTransport fails on hosts without a component-object runtime. The
// engine and its tests run everywhere with a substitute transport.
func NewTransport() (Transport, error) {
	return nil, ErrUnsupportedPlatform
}
