package bt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// ErrUnknownAddress is returned by Connect for an address no scan has reported
var ErrUnknownAddress = errors.New("address not seen in any scan")

// Verify BTManager implements erg.Transport
var _ erg.Transport = (*BTManager)(nil)

// BTManager is the BLE transport. It scans with the host adapter and hands out
// one btDevice per open link.
type BTManager struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	mu               sync.Mutex
	addressByString  map[string]bluetooth.Address
	devicesByAddress map[string]*btDevice
	scanning         bool
	wg               sync.WaitGroup
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger) *BTManager {
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	return &BTManager{
		adapter:          adapter,
		logger:           logger,
		addressByString:  make(map[string]bluetooth.Address),
		devicesByAddress: make(map[string]*btDevice),
	}
}

// Enable powers up the adapter and routes disconnect events to the open links
func (m *BTManager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()
		if connected {
			m.logger.Printf("BTManager: device connected: %s", addressStr)
			return
		}

		m.logger.Printf("BTManager: device disconnected: %s", addressStr)
		m.mu.Lock()
		d, ok := m.devicesByAddress[addressStr]
		if ok {
			delete(m.devicesByAddress, addressStr)
		}
		m.mu.Unlock()
		if ok {
			d.markLost()
		}
	})

	return m.adapter.Enable()
}

// Discover scans for timeout and returns every named device seen, strongest signal first
func (m *BTManager) Discover(ctx context.Context, timeout time.Duration) ([]erg.Advertisement, error) {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return nil, errors.New("scan already in progress")
	}
	m.scanning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
	}()

	var seenMu sync.Mutex
	seen := make(map[string]erg.Advertisement)

	scanDone := make(chan error, 1)
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, "ble-scan", func() {
		defer m.wg.Done()
		scanDone <- m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			addressStr := result.Address.String()
			name := result.LocalName()

			seenMu.Lock()
			prev, known := seen[addressStr]
			if name == "" {
				name = prev.Name
			}
			seen[addressStr] = erg.Advertisement{Name: name, Address: addressStr, RSSI: result.RSSI}
			seenMu.Unlock()

			m.mu.Lock()
			m.addressByString[addressStr] = result.Address
			m.mu.Unlock()

			if !known && name != "" {
				m.logger.Printf("BTManager: found %s (%s) [RSSI: %d]", name, addressStr, result.RSSI)
			}
		})
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var scanErr error
	select {
	case scanErr = <-scanDone:
		// adapter ended the scan on its own
	case <-timer.C:
		scanErr = m.stopScan(scanDone)
	case <-ctx.Done():
		scanErr = m.stopScan(scanDone)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, fmt.Errorf("scan failed: %w", scanErr)
	}

	seenMu.Lock()
	defer seenMu.Unlock()
	return sortAdvertisements(seen), nil
}

func (m *BTManager) stopScan(scanDone <-chan error) error {
	if err := m.adapter.StopScan(); err != nil {
		m.logger.Printf("BTManager: error stopping scan: %v", err)
	}
	return <-scanDone
}

// Connect opens a link to a device found by an earlier Discover and caches its
// GATT table. If ctx ends first the pending link is torn down when it completes.
func (m *BTManager) Connect(ctx context.Context, address string) (erg.Conn, error) {
	m.mu.Lock()
	addr, ok := m.addressByString[address]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan connectResult, 1)

	m.logger.Printf("BTManager: connecting to %s", address)
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, "ble-connect", func() {
		defer m.wg.Done()
		device, err := m.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- connectResult{device: device, err: err}
	})

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		d := newBtDevice(m.logger, address, res.device, func() {
			m.mu.Lock()
			delete(m.devicesByAddress, address)
			m.mu.Unlock()
		})
		if err := d.discover(); err != nil {
			if derr := res.device.Disconnect(); derr != nil {
				m.logger.Printf("BTManager: error disconnecting %s: %v", address, derr)
			}
			return nil, err
		}

		m.mu.Lock()
		m.devicesByAddress[address] = d
		m.mu.Unlock()
		return d, nil

	case <-ctx.Done():
		go_func_utils.SafeGo(m.logger, "ble-connect-abandon", func() {
			res := <-done
			if res.err == nil {
				m.logger.Printf("BTManager: dropping link to %s opened after shutdown", address)
				_ = res.device.Disconnect()
			}
		})
		return nil, ctx.Err()
	}
}

// Shutdown stops any scan, disconnects every open link and waits for the helper goroutines
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: shutting down")

	m.mu.Lock()
	scanning := m.scanning
	devices := make([]*btDevice, 0, len(m.devicesByAddress))
	for _, d := range m.devicesByAddress {
		devices = append(devices, d)
	}
	m.mu.Unlock()

	if scanning {
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("BTManager: error stopping scan: %v", err)
		}
	}
	for _, d := range devices {
		if err := d.Close(); err != nil {
			m.logger.Printf("BTManager: error disconnecting from %s: %v", d.address, err)
		}
	}
	m.wg.Wait()
	m.logger.Println("BTManager: shutdown complete")
}

func sortAdvertisements(byAddress map[string]erg.Advertisement) []erg.Advertisement {
	ads := make([]erg.Advertisement, 0, len(byAddress))
	for _, ad := range byAddress {
		ads = append(ads, ad)
	}
	slices.SortFunc(ads, func(a, b erg.Advertisement) int {
		if c := cmp.Compare(b.RSSI, a.RSSI); c != 0 {
			return c
		}
		return cmp.Compare(a.Address, b.Address)
	})
	return ads
}
