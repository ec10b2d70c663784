package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/config"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(t *testing.T) bluetooth.MacAddress {
	t.Helper()

	addr, err := bluetooth.ParseMacAddress("11:22:33:44:55:66")
	require.NoError(t, err)

	return addr
}

func TestStoreRoundtrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	addr := testAddress(t)

	require.NoError(t, store.WriteDeviceMode(addr, config.ModeDiscoverable))
	require.NoError(t, store.WriteLocalName(addr, "desk"))
	require.NoError(t, store.WriteLocalClass(addr, 0x1f00))
	require.NoError(t, store.WriteDiscoverableTimeout(addr, 120))

	mode, err := store.ReadDeviceMode(addr)
	require.NoError(t, err)
	assert.Equal(t, config.ModeDiscoverable, mode)

	name, err := store.ReadLocalName(addr)
	require.NoError(t, err)
	assert.Equal(t, "desk", name)

	class, err := store.ReadLocalClass(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1f00), class)

	timeout, err := store.ReadDiscoverableTimeout(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(120), timeout)
}

func TestStoreAbsentValues(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	addr := testAddress(t)

	_, err = store.ReadDeviceMode(addr)
	assert.ErrorIs(t, err, errorkinds.ErrStateNotFound)

	// A document with only some fields reports the rest as absent.
	require.NoError(t, store.WriteLocalName(addr, "desk"))

	_, err = store.ReadLocalClass(addr)
	assert.ErrorIs(t, err, errorkinds.ErrStateNotFound)

	_, err = store.ReadDiscoverableTimeout(addr)
	assert.ErrorIs(t, err, errorkinds.ErrStateNotFound)

	name, err := store.ReadLocalName(addr)
	require.NoError(t, err)
	assert.Equal(t, "desk", name)
}

func TestStoreUpdatePreservesOtherFields(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	addr := testAddress(t)

	require.NoError(t, store.WriteLocalName(addr, "desk"))
	require.NoError(t, store.WriteLocalClass(addr, 0x200))
	require.NoError(t, store.WriteLocalName(addr, "lab"))

	class, err := store.ReadLocalClass(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), class)
}

func TestStoreDocumentPerAddress(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	require.NoError(t, err)

	addr := testAddress(t)
	require.NoError(t, store.WriteLocalName(addr, "desk"))

	_, err = os.Stat(filepath.Join(dir, addr.String()+".json"))
	assert.NoError(t, err)
}
