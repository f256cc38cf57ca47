package relay

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"gandalf/usbmux"
)

// TunnelSpec is the joined (local_port, device_id, udid, device_port) tuple that Snapshot
// exposes: one per currently-attached device whose udid appears in the mapping.
type TunnelSpec struct {
	LocalPort  uint16
	DeviceID   int
	UDID       string
	DevicePort uint16
}

// Inventory owns the live device_id -> udid table built from a Mux session's Listen stream,
// plus the most recently loaded Mapping. Updates are serialized by the single goroutine
// reading the Listen stream; Snapshot is safe to call concurrently from any number of readers
// (the status server and the debug HTTP surface both do).
type Inventory struct {
	mu          sync.Mutex
	devices     map[int]string
	mapping     Mapping
	mappingPath string
}

// NewInventory creates an Inventory for the given mapping file path, seeded with an
// already-loaded mapping (the one the Supervisor validated at boot).
func NewInventory(mappingPath string, initial Mapping) *Inventory {
	return &Inventory{
		devices:     make(map[int]string),
		mapping:     initial,
		mappingPath: mappingPath,
	}
}

// Snapshot returns the current joined tunnel specs. Only device_ids present in the live
// Inventory and udids present in the current mapping are returned.
func (inv *Inventory) Snapshot() []TunnelSpec {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var specs []TunnelSpec
	for deviceID, udid := range inv.devices {
		for _, e := range inv.mapping.EntriesForUDID(udid) {
			specs = append(specs, TunnelSpec{
				LocalPort:  e.LocalPort,
				DeviceID:   deviceID,
				UDID:       udid,
				DevicePort: e.DevicePort,
			})
		}
	}
	// Deterministic ordering makes the status line and debug HTTP output stable across calls
	// even though the backing map iterates in random order.
	slices.SortFunc(specs, func(a, b TunnelSpec) int {
		if a.LocalPort != b.LocalPort {
			return int(a.LocalPort) - int(b.LocalPort)
		}
		return a.DeviceID - b.DeviceID
	})
	return specs
}

func (inv *Inventory) handleEvent(reply usbmux.Reply) {
	inv.mu.Lock()
	switch reply.Kind {
	case usbmux.ReplyAttached:
		if _, exists := inv.devices[reply.Device.DeviceID]; !exists {
			inv.devices[reply.Device.DeviceID] = reply.Device.SerialNumber
			log.WithFields(log.Fields{"device_id": reply.Device.DeviceID, "udid": reply.Device.SerialNumber}).Info("relay: device attached")
		}
	case usbmux.ReplyDetached:
		udid := inv.devices[reply.DeviceID]
		delete(inv.devices, reply.DeviceID)
		log.WithFields(log.Fields{"device_id": reply.DeviceID, "udid": udid}).Info("relay: device detached")
	}
	inv.mu.Unlock()

	inv.reloadMapping()
}

// reloadMapping re-reads the mapping file from disk. A parse failure leaves the previous
// mapping in place, logged: edits only take effect once they parse cleanly.
func (inv *Inventory) reloadMapping() {
	m, err := LoadMapping(inv.mappingPath)
	if err != nil {
		log.WithError(err).Warn("relay: mapping re-read failed, keeping previous mapping")
		return
	}
	inv.mu.Lock()
	inv.mapping = m
	inv.mu.Unlock()
}

// Run opens a Mux session to socketAddr and subscribes to attach/detach events. It gives
// usbmuxd firstBurstDeadline to emit its initial burst of Attached events for already-connected
// devices, then returns nil so the caller can proceed with a partially-populated Inventory as
// the initial state. The subscription keeps running in the background after Run returns,
// continuing to feed handleEvent; that background loop is the long-lived device inventory task.
// If the subscription fails before the first burst completes, Run returns that error so the
// caller's retry wrapper can retry the whole bootstrap. ctx cancellation closes the session and
// causes Run (and the background loop) to exit cleanly.
func (inv *Inventory) Run(ctx context.Context, socketAddr string, firstBurstDeadline time.Duration) error {
	session, err := usbmux.NewSession(socketAddr)
	if err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- session.Listen(inv.handleEvent)
	}()

	go func() {
		<-ctx.Done()
		session.Close()
	}()

	select {
	case err := <-listenErr:
		return err
	case <-time.After(firstBurstDeadline):
	case <-ctx.Done():
		return nil
	}

	go func() {
		if err := <-listenErr; err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("relay: inventory subscription ended")
		}
	}()
	return nil
}
