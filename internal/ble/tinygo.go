package ble

import (
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// nativeCentral backs the Central seam with tinygo.org/x/bluetooth.
// Addresses from scan results are cached by their string form so the
// transport can connect by the same opaque id it showed the user.
type nativeCentral struct {
	adapter *bluetooth.Adapter

	mu     sync.Mutex
	seen   map[string]bluetooth.Address
	onDrop func(id string)
}

// NewNativeCentral returns a Central backed by the platform's default
// BLE adapter.
func NewNativeCentral() Central {
	return &nativeCentral{
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (c *nativeCentral) Enable() error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	c.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		c.mu.Lock()
		cb := c.onDrop
		c.mu.Unlock()
		if cb != nil {
			cb(device.Address.String())
		}
	})
	return nil
}

func (c *nativeCentral) SetDisconnectHandler(onDisconnect func(id string)) {
	c.mu.Lock()
	c.onDrop = onDisconnect
	c.mu.Unlock()
}

func (c *nativeCentral) Scan(onDiscover func(id, name string)) error {
	return c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		id := result.Address.String()
		c.mu.Lock()
		c.seen[id] = result.Address
		c.mu.Unlock()
		onDiscover(id, result.LocalName())
	})
}

func (c *nativeCentral) StopScan() error {
	return c.adapter.StopScan()
}

func (c *nativeCentral) Connect(id string, timeout time.Duration) (Peripheral, error) {
	c.mu.Lock()
	addr, ok := c.seen[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ble: device %s was not seen in a scan", id)
	}

	dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("ble: connect %s: %w", id, err)
	}
	return &nativePeripheral{dev: dev}, nil
}

type nativePeripheral struct {
	dev bluetooth.Device
}

func (p *nativePeripheral) Characteristics() ([]Characteristic, error) {
	svcs, err := p.dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	var out []Characteristic
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			// A service that refuses discovery doesn't block the rest.
			continue
		}
		for _, ch := range chars {
			out = append(out, &nativeCharacteristic{ch: ch, svc: svc.UUID().String()})
		}
	}
	return out, nil
}

func (p *nativePeripheral) Disconnect() error {
	return p.dev.Disconnect()
}

type nativeCharacteristic struct {
	ch  bluetooth.DeviceCharacteristic
	svc string
}

func (c *nativeCharacteristic) UUID() string {
	return c.ch.UUID().String()
}

func (c *nativeCharacteristic) ServiceUUID() string {
	return c.svc
}

func (c *nativeCharacteristic) Notify(onData func([]byte)) error {
	return c.ch.EnableNotifications(onData)
}
