package daemon

import (
	"testing"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adapterInfo(id uint16, flags uint32) bluetooth.AdapterInfo {
	addr, _ := bluetooth.ParseMacAddress("11:22:33:44:55:66")

	return bluetooth.AdapterInfo{
		ID:      id,
		Name:    "hci0",
		Address: addr,
		Flags:   flags,
	}
}

func TestConfigureAppliesScanOnly(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.configureAdapter(0)

	// The name is not written unless the operator set one.
	assert.Equal(t, []string{"hci0:scan=0x2"}, f.transport.ops)
}

func TestConfigureAppliesName(t *testing.T) {
	reg := config.NewRegistry()
	reg.Default().Name = "node-%d"
	reg.Default().Mark(config.SetName)

	f := newFixture(t, Options{Registry: reg, Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.configureAdapter(0)

	assert.Equal(t, []string{
		"hci0:scan=0x2",
		"hci0:cmd=0x3/0x13",
	}, f.transport.ops)
}

func TestConfigureWritesInquiryResponse(t *testing.T) {
	reg := config.NewRegistry()
	reg.Default().Mark(config.SetName)

	f := newFixture(t, Options{Registry: reg, Settings: config.Settings{AutoInit: true}})

	info := adapterInfo(0, bluetooth.AdapterFlagUp)
	info.Features[6] = 0x01
	f.transport.infos[0] = info

	f.daemon.configureAdapter(0)

	assert.Contains(t, f.transport.ops, "hci0:cmd=0x3/0x52")
}

func TestConfigurePersistedModeOverridesScan(t *testing.T) {
	zero := uint32(0)

	f := newFixture(t, Options{
		Settings: config.Settings{AutoInit: true},
	})
	f.daemon.opts.State = &fakeState{mode: config.ModeDiscoverable, timeout: &zero}
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.configureAdapter(0)

	assert.Contains(t, f.transport.ops, "hci0:scan=0x3")
}

func TestConfigurePersistedModeOff(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{AutoInit: true}})
	f.daemon.opts.State = &fakeState{mode: config.ModeOff}
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.configureAdapter(0)

	assert.Contains(t, f.transport.ops, "hci0:scan=0x0")
}

func TestConfigureClassGating(t *testing.T) {
	reg := config.NewRegistry()
	reg.Default().Class = 0x1f00
	reg.Default().Mark(config.SetClass)

	f := newFixture(t, Options{Registry: reg, Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.configureAdapter(0)
	assert.Contains(t, f.transport.ops, "hci0:cmd=0x3/0x24")

	// A persisted class takes priority; the configured value is not
	// written over it.
	persisted := uint32(0x200)
	f.transport.ops = nil
	f.daemon.opts.State = &fakeState{class: &persisted}

	f.daemon.configureAdapter(0)
	assert.NotContains(t, f.transport.ops, "hci0:cmd=0x3/0x24")
}

func TestConfigureVoiceAndPageTimeout(t *testing.T) {
	reg := config.NewRegistry()
	reg.Default().Voice = 0x0060
	reg.Default().Mark(config.SetVoice)
	reg.Default().PageTimeout = 0x2000
	reg.Default().Mark(config.SetPageTimeout)

	f := newFixture(t, Options{Registry: reg, Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.configureAdapter(0)

	assert.Contains(t, f.transport.ops, "hci0:cmd=0x3/0x26")
	assert.Contains(t, f.transport.ops, "hci0:cmd=0x3/0x18")
}

func TestConfigureRawBypass(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp|bluetooth.AdapterFlagRaw)

	f.daemon.configureAdapter(0)

	assert.Empty(t, f.transport.ops)
}

func TestInitAdapter(t *testing.T) {
	f := newFixture(t, Options{Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.initAdapter(0)

	assert.Equal(t, []string{"hci0:bringup"}, f.transport.ops)
}

func TestInitAdapterLinkMasks(t *testing.T) {
	reg := config.NewRegistry()
	reg.Default().PacketType = 0xcc18
	reg.Default().Mark(config.SetPacketType)
	reg.Default().LinkPolicy = 0x000f
	reg.Default().Mark(config.SetLinkPolicy)

	f := newFixture(t, Options{Registry: reg, Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagUp)

	f.daemon.initAdapter(0)

	require.Equal(t, []string{
		"hci0:bringup",
		"hci0:ptype=0xcc18",
		"hci0:linkpolicy=0xf",
	}, f.transport.ops)
}

func TestInitAdapterRawSkipsMasks(t *testing.T) {
	reg := config.NewRegistry()
	reg.Default().PacketType = 0xcc18
	reg.Default().Mark(config.SetPacketType)

	f := newFixture(t, Options{Registry: reg, Settings: config.Settings{AutoInit: true}})
	f.transport.infos[0] = adapterInfo(0, bluetooth.AdapterFlagRaw)

	f.daemon.initAdapter(0)

	assert.Equal(t, []string{"hci0:bringup"}, f.transport.ops)
}
