package adapterstore

import (
	"testing"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter(id uint16) bluetooth.AdapterData {
	return bluetooth.AdapterData{
		Name: "hci0",
		AdapterEventData: bluetooth.AdapterEventData{
			ID:    id,
			State: bluetooth.StateRegistered,
		},
	}
}

func TestStoreAddAndGet(t *testing.T) {
	store := New()
	store.Add(testAdapter(0))

	adapter, err := store.Adapter(0)
	require.NoError(t, err)
	assert.Equal(t, "hci0", adapter.Name)
	assert.Equal(t, bluetooth.StateRegistered, adapter.State)

	_, err = store.Adapter(1)
	assert.ErrorIs(t, err, errorkinds.ErrAdapterNotFound)
}

func TestStoreUpdate(t *testing.T) {
	store := New()
	store.Add(testAdapter(0))

	data, err := store.Update(0, func(adapter *bluetooth.AdapterData) error {
		adapter.State = bluetooth.StateUp

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, bluetooth.StateUp, data.State)

	adapter, err := store.Adapter(0)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.StateUp, adapter.State)
}

func TestStoreUpdateUnknown(t *testing.T) {
	store := New()

	_, err := store.Update(9, func(*bluetooth.AdapterData) error { return nil })
	assert.ErrorIs(t, err, errorkinds.ErrAdapterNotFound)
}

func TestStoreRemove(t *testing.T) {
	store := New()
	store.Add(testAdapter(0))

	store.Remove(0)
	store.Remove(0)

	_, err := store.Adapter(0)
	assert.ErrorIs(t, err, errorkinds.ErrAdapterNotFound)
	assert.Empty(t, store.Adapters())
}
