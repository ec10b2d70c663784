package daemon

import (
	"errors"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/config"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/bluewire-org/bluetooth-hostd/linux/hci"
	"github.com/sirupsen/logrus"
)

// initAdapter runs the one-time bring-up of a freshly registered
// adapter: power it on and apply the link-layer masks the operator set
// explicitly. Adapters in raw mode are powered on but otherwise left
// alone.
func (d *Daemon) initAdapter(id uint16) {
	log := d.log.WithField("adapter", id)

	ctl, err := d.opts.Transport.Open(id)
	if err != nil {
		log.WithError(err).Error("Cannot open adapter")
		return
	}
	defer ctl.Close()

	if err := ctl.BringUp(); err != nil {
		log.WithError(err).Error("Cannot bring up adapter")
		return
	}

	info, err := ctl.Info()
	if err != nil {
		log.WithError(err).Error("Cannot query adapter")
		return
	}

	if info.Raw() {
		return
	}

	opts := d.opts.Registry.Resolve(id, info.Address.String())

	if opts.Has(config.SetPacketType) {
		if err := ctl.SetPacketType(opts.PacketType); err != nil {
			log.WithError(err).Error("Cannot set packet type")
		}
	}

	if opts.Has(config.SetLinkMode) {
		if err := ctl.SetLinkMode(opts.LinkMode); err != nil {
			log.WithError(err).Error("Cannot set link mode")
		}
	}

	if opts.Has(config.SetLinkPolicy) {
		if err := ctl.SetLinkPolicy(opts.LinkPolicy); err != nil {
			log.WithError(err).Error("Cannot set link policy")
		}
	}
}

// configureAdapter applies the resolved options to an adapter that came
// up: scan mode always, then name, class, voice setting and page
// timeout as configured. Persisted state, where present, overrides the
// configured values. Adapters in raw mode are left alone.
func (d *Daemon) configureAdapter(id uint16) {
	log := d.log.WithField("adapter", id)

	ctl, err := d.opts.Transport.Open(id)
	if err != nil {
		log.WithError(err).Error("Cannot open adapter")
		return
	}
	defer ctl.Close()

	info, err := ctl.Info()
	if err != nil {
		log.WithError(err).Error("Cannot query adapter")
		return
	}

	if info.Raw() {
		return
	}

	addr := info.Address
	opts := d.opts.Registry.Resolve(id, addr.String())

	timeout := opts.DiscoverableTimeout
	if v, err := readState(d.opts.State, log, "discoverable timeout",
		func(s StateStore) (uint32, error) { return s.ReadDiscoverableTimeout(addr) },
	); err == nil {
		timeout = v
	}

	scan := opts.Scan
	if mode, err := readState(d.opts.State, log, "device mode",
		func(s StateStore) (config.DeviceMode, error) { return s.ReadDeviceMode(addr) },
	); err == nil {
		scan = config.DeriveScanMode(mode, timeout)
	}

	if err := ctl.SetScan(uint32(scan)); err != nil {
		log.WithError(err).Error("Cannot set scan mode")
	}

	if opts.Has(config.SetName) {
		d.configureName(log, ctl, info, opts)
	}

	if opts.Has(config.SetClass) {
		if _, err := readState(d.opts.State, log, "device class",
			func(s StateStore) (uint32, error) { return s.ReadLocalClass(addr) },
		); err != nil {
			if err := ctl.SendCommand(hci.OgfHostControl, hci.OcfWriteClassOfDevice,
				hci.WriteClassOfDevice(opts.Class)); err != nil {
				log.WithError(err).Error("Cannot set device class")
			}
		}
	}

	if opts.Has(config.SetVoice) {
		if err := ctl.SendCommand(hci.OgfHostControl, hci.OcfWriteVoiceSetting,
			hci.WriteVoiceSetting(opts.Voice)); err != nil {
			log.WithError(err).Error("Cannot set voice setting")
		}
	}

	if opts.Has(config.SetPageTimeout) {
		if err := ctl.SendCommand(hci.OgfHostControl, hci.OcfWritePageTimeout,
			hci.WritePageTimeout(opts.PageTimeout)); err != nil {
			log.WithError(err).Error("Cannot set page timeout")
		}
	}
}

// configureName writes the adapter's local name, preferring a persisted
// name over the configured template. Controllers advertising extended
// inquiry also carry the name in their inquiry response.
func (d *Daemon) configureName(log *logrus.Entry, ctl bluetooth.AdapterControl, info bluetooth.AdapterInfo, opts *config.DeviceOptions) {
	name, err := readState(d.opts.State, log, "local name",
		func(s StateStore) (string, error) { return s.ReadLocalName(info.Address) },
	)
	if err != nil {
		name = config.ExpandName(opts.Name, info.ID, d.opts.Hostname, hci.MaxNameLength)
	}

	if err := ctl.SendCommand(hci.OgfHostControl, hci.OcfChangeLocalName,
		hci.ChangeLocalName(name)); err != nil {
		log.WithError(err).Error("Cannot set local name")
	}

	if info.HasExtendedInquiry() {
		if err := ctl.SendCommand(hci.OgfHostControl, hci.OcfWriteExtendedInquiryResponse,
			hci.WriteExtendedInquiryResponse(name)); err != nil {
			log.WithError(err).Error("Cannot set inquiry response")
		}
	}
}

// readState reads one persisted value from an optional state store,
// logging anything other than a plain absence.
func readState[T any](store StateStore, log *logrus.Entry, what string, read func(StateStore) (T, error)) (T, error) {
	if store == nil {
		var zero T
		return zero, errorkinds.ErrStateNotFound
	}

	v, err := read(store)
	if err != nil && !errors.Is(err, errorkinds.ErrStateNotFound) {
		log.WithError(err).Warnf("Cannot read persisted %s", what)
	}

	return v, err
}
