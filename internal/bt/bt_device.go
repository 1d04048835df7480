package bt

import (
	"fmt"
	"log"
	"sync"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"

	"tinygo.org/x/bluetooth"
)

// Verify btDevice implements erg.Conn
var _ erg.Conn = (*btDevice)(nil)

// btDevice is one open link. Characteristics are looked up by UUID across all
// services, so callers never need to know the PM5 service layout.
type btDevice struct {
	logger  *log.Logger
	address string
	device  bluetooth.Device

	bleMu                sync.Mutex // Serializes BLE characteristic operations (notifications, writes)
	characteristicByUuid map[string]*bluetooth.DeviceCharacteristic

	release  func()
	lost     chan struct{}
	lostOnce sync.Once
}

func newBtDevice(logger *log.Logger, address string, device bluetooth.Device, release func()) *btDevice {
	if logger == nil {
		panic("btDevice: logger cannot be nil")
	}
	return &btDevice{
		logger:               logger,
		address:              address,
		device:               device,
		characteristicByUuid: make(map[string]*bluetooth.DeviceCharacteristic),
		release:              release,
		lost:                 make(chan struct{}),
	}
}

// discover walks every service once and caches every characteristic.
// Discovering single services repeatedly interrupts services already in use.
func (b *btDevice) discover() error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	b.logger.Printf("BTDevice: discovering all services for %s", b.address)
	services, err := b.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("error discovering services: %w", err)
	}

	for i := range services {
		svc := &services[i]
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("could not discover characteristics for service %v: %w", svc.UUID().String(), err)
		}
		for j := range chars {
			char := &chars[j]
			b.characteristicByUuid[char.UUID().String()] = char
		}
	}
	b.logger.Printf("BTDevice: cached %d characteristics across %d services", len(b.characteristicByUuid), len(services))
	return nil
}

func (b *btDevice) getCharacteristic(characteristicUuidStr string) (*bluetooth.DeviceCharacteristic, error) {
	characteristicUuid, err := bluetooth.ParseUUID(characteristicUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristicUuidStr, err)
	}
	char, ok := b.characteristicByUuid[characteristicUuid.String()]
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found on %s", characteristicUuidStr, b.address)
	}
	return char, nil
}

func (b *btDevice) Subscribe(characteristic string, fn func(payload []byte)) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	char, err := b.getCharacteristic(characteristic)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(fn); err != nil {
		return fmt.Errorf("failed to enable notifications: %w", err)
	}
	b.logger.Printf("BTDevice: notifications enabled for %s", characteristic)
	return nil
}

func (b *btDevice) Write(characteristic string, payload []byte) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	char, err := b.getCharacteristic(characteristic)
	if err != nil {
		return err
	}
	if _, err := char.WriteWithoutResponse(payload); err != nil {
		return fmt.Errorf("failed to write characteristic: %w", err)
	}
	return nil
}

func (b *btDevice) Lost() <-chan struct{} {
	return b.lost
}

func (b *btDevice) markLost() {
	b.lostOnce.Do(func() {
		close(b.lost)
		if b.release != nil {
			b.release()
		}
	})
}

// Close disconnects; closing a link the peer already dropped is not an error
func (b *btDevice) Close() error {
	select {
	case <-b.lost:
		return nil
	default:
	}
	err := b.device.Disconnect()
	b.markLost()
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", b.address, err)
	}
	return nil
}
