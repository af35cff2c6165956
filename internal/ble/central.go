package ble

import "time"

// Central abstracts the native BLE stack. The transport only ever talks
// to this seam; the one implementation backed by the real radio lives in
// tinygo.go. Keeping the seam small means a host without a usable
// adapter degrades to Available()==false instead of failing somewhere
// deep in a call chain.
type Central interface {
	// Enable initializes the native adapter. Called once at construction.
	Enable() error
	// Scan starts advertising discovery and blocks until StopScan is
	// called (or the stack fails). onDiscover fires for every
	// advertisement seen, including repeats of the same device.
	Scan(onDiscover func(id, name string)) error
	StopScan() error
	// Connect dials a device previously reported by Scan.
	Connect(id string, timeout time.Duration) (Peripheral, error)
	// SetDisconnectHandler registers a callback for link drops,
	// including unexpected ones.
	SetDisconnectHandler(onDisconnect func(id string))
}

// Peripheral is an established connection.
type Peripheral interface {
	// Characteristics lists all characteristics across all services, in
	// discovery order.
	Characteristics() ([]Characteristic, error)
	Disconnect() error
}

// Characteristic is one subscribable data slot on the peripheral.
type Characteristic interface {
	UUID() string
	// ServiceUUID identifies the service this characteristic belongs to.
	ServiceUUID() string
	// Notify subscribes to value notifications. Fails if the
	// characteristic does not support them.
	Notify(onData func(payload []byte)) error
}
