package proxy

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/ble-scanner/internal/device"
)

// AdapterClient scans on a local Bluetooth adapter instead of a remote
// proxy. It lets the scanner run on a host with its own radio.
type AdapterClient struct {
	adapter *bluetooth.Adapter
	id      string
	logger  Logger

	mu       sync.Mutex
	scanning bool
}

// NewAdapterClient creates a client for the adapter named id ("hci0").
// An empty id selects the platform default adapter.
func NewAdapterClient(id string) *AdapterClient {
	return &AdapterClient{
		adapter: newAdapter(id),
		id:      id,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *AdapterClient) SetLogger(logger Logger) {
	c.logger = logger
}

// Connect powers up the adapter.
func (c *AdapterClient) Connect(_ context.Context) error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enabling adapter %s: %w", ErrTransport, c.id, err)
	}
	return nil
}

// Subscribe scans until the scan fails or ctx is cancelled.
func (c *AdapterClient) Subscribe(ctx context.Context, handle func(Advertisement)) error {
	c.mu.Lock()
	c.scanning = true
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			handle(advertisementFromScan(result))
		})
	}()

	select {
	case <-ctx.Done():
		_ = c.stopScan()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: scanning: %w", ErrTransport, err)
		}
		return nil
	}
}

// Disconnect stops an active scan.
func (c *AdapterClient) Disconnect() error {
	return c.stopScan()
}

func (c *AdapterClient) stopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.scanning {
		return nil
	}
	c.scanning = false
	if err := c.adapter.StopScan(); err != nil {
		return fmt.Errorf("stopping scan: %w", err)
	}
	return nil
}

func advertisementFromScan(result bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		MAC:  result.Address.String(),
		Name: result.LocalName(),
		RSSI: int(result.RSSI),
	}

	ids := make([]uint16, 0, 1)
	for _, md := range result.ManufacturerData() {
		ids = append(ids, md.CompanyID)
	}
	adv.Manufacturer = manufacturerFromIDs(ids)

	for _, sd := range result.ServiceData() {
		adv.Services = append(adv.Services, device.ShortUUID(sd.UUID.String()))
	}
	return adv
}
