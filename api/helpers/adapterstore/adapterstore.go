// Package adapterstore holds the daemon's table of known adapters,
// keyed by the kernel-assigned adapter index.
package adapterstore

import (
	"fmt"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/puzpuzpuz/xsync/v3"
)

// MergeAdapterDataFunc describes a function to merge old adapter data
// with updated adapter data.
type MergeAdapterDataFunc func(*bluetooth.AdapterData) error

// Store describes a store of adapters.
type Store struct {
	adapters *xsync.MapOf[uint16, bluetooth.AdapterData]
}

// New returns a new Store.
func New() Store {
	return Store{
		adapters: xsync.NewMapOf[uint16, bluetooth.AdapterData](),
	}
}

// Adapters returns a list of adapters from the store.
func (s *Store) Adapters() []bluetooth.AdapterData {
	adapters := make([]bluetooth.AdapterData, 0, s.adapters.Size())

	s.adapters.Range(func(_ uint16, adapter bluetooth.AdapterData) bool {
		adapters = append(adapters, adapter)

		return true
	})

	return adapters
}

// Adapter returns the adapter stored under the provided index.
func (s *Store) Adapter(id uint16) (bluetooth.AdapterData, error) {
	adapter, ok := s.adapters.Load(id)
	if !ok {
		return adapter, fmt.Errorf("get hci%d: %w", id, errorkinds.ErrAdapterNotFound)
	}

	return adapter, nil
}

// Add adds an adapter to the store.
func (s *Store) Add(adapter bluetooth.AdapterData) {
	s.adapters.Store(adapter.ID, adapter)
}

// Remove removes an adapter from the store. Removing an index that is
// not present is ignored.
func (s *Store) Remove(id uint16) {
	s.adapters.Delete(id)
}

// Update updates the properties of the adapter in the store.
func (s *Store) Update(id uint16, mergefn MergeAdapterDataFunc) (bluetooth.AdapterEventData, error) {
	adapter, ok := s.adapters.Load(id)
	if !ok {
		return bluetooth.AdapterEventData{},
			fmt.Errorf("update hci%d: %w", id, errorkinds.ErrAdapterNotFound)
	}

	if err := mergefn(&adapter); err != nil {
		return bluetooth.AdapterEventData{}, err
	}

	s.adapters.Store(id, adapter)

	return adapter.AdapterEventData, nil
}
