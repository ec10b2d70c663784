// Package statestore persists per-adapter state (operator-facing mode,
// local name, class and discoverability timeout) across daemon restarts.
// Readers distinguish "no persisted value" from a read failure so callers
// can decide whether to apply a configured default.
package statestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/bluewire-org/bluetooth-hostd/api/config"
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/ugorji/go/codec"
)

// deviceState mirrors one persisted state document.
type deviceState struct {
	Mode                string  `codec:"mode,omitempty"`
	Name                string  `codec:"name,omitempty"`
	Class               *uint32 `codec:"class,omitempty"`
	DiscoverableTimeout *uint32 `codec:"discoverable_timeout,omitempty"`
}

// Store reads and writes one state document per adapter address under
// a state directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	handle codec.Handle
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "statestore-mkdir",
				"dir", dir,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot create state directory"),
		)
	}

	return &Store{dir: dir, handle: &codec.JsonHandle{}}, nil
}

// path returns the document path for an adapter address.
func (s *Store) path(address bluetooth.MacAddress) string {
	return filepath.Join(s.dir, address.String()+".json")
}

// load reads the state document for address. A missing document is
// reported as errorkinds.ErrStateNotFound.
func (s *Store) load(address bluetooth.MacAddress) (deviceState, error) {
	var state deviceState

	raw, err := os.ReadFile(s.path(address))
	if err != nil {
		if os.IsNotExist(err) {
			return state, errorkinds.ErrStateNotFound
		}

		return state, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "statestore-read",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot read persisted adapter state"),
		)
	}

	if err := codec.NewDecoderBytes(raw, s.handle).Decode(&state); err != nil {
		return state, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "statestore-decode",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot decode persisted adapter state"),
		)
	}

	return state, nil
}

// store writes the state document for address.
func (s *Store) store(address bluetooth.MacAddress, state deviceState) error {
	var raw []byte

	if err := codec.NewEncoderBytes(&raw, s.handle).Encode(state); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "statestore-encode",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot encode adapter state"),
		)
	}

	if err := os.WriteFile(s.path(address), raw, 0o600); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "statestore-write",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot write persisted adapter state"),
		)
	}

	return nil
}

// update merges one field into the state document for address.
func (s *Store) update(address bluetooth.MacAddress, mergefn func(*deviceState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(address)
	if err != nil && err != errorkinds.ErrStateNotFound {
		return err
	}

	mergefn(&state)

	return s.store(address, state)
}

// ReadDeviceMode returns the persisted operator mode for an adapter.
func (s *Store) ReadDeviceMode(address bluetooth.MacAddress) (config.DeviceMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(address)
	if err != nil {
		return "", err
	}

	if state.Mode == "" {
		return "", errorkinds.ErrStateNotFound
	}

	return config.DeviceMode(state.Mode), nil
}

// ReadLocalName returns the persisted local name for an adapter.
func (s *Store) ReadLocalName(address bluetooth.MacAddress) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(address)
	if err != nil {
		return "", err
	}

	if state.Name == "" {
		return "", errorkinds.ErrStateNotFound
	}

	return state.Name, nil
}

// ReadLocalClass returns the persisted device class for an adapter.
func (s *Store) ReadLocalClass(address bluetooth.MacAddress) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(address)
	if err != nil {
		return 0, err
	}

	if state.Class == nil {
		return 0, errorkinds.ErrStateNotFound
	}

	return *state.Class, nil
}

// ReadDiscoverableTimeout returns the persisted discoverability timeout
// for an adapter.
func (s *Store) ReadDiscoverableTimeout(address bluetooth.MacAddress) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(address)
	if err != nil {
		return 0, err
	}

	if state.DiscoverableTimeout == nil {
		return 0, errorkinds.ErrStateNotFound
	}

	return *state.DiscoverableTimeout, nil
}

// WriteDeviceMode persists the operator mode for an adapter.
func (s *Store) WriteDeviceMode(address bluetooth.MacAddress, mode config.DeviceMode) error {
	return s.update(address, func(state *deviceState) {
		state.Mode = string(mode)
	})
}

// WriteLocalName persists the local name for an adapter.
func (s *Store) WriteLocalName(address bluetooth.MacAddress, name string) error {
	return s.update(address, func(state *deviceState) {
		state.Name = name
	})
}

// WriteLocalClass persists the device class for an adapter.
func (s *Store) WriteLocalClass(address bluetooth.MacAddress, class uint32) error {
	return s.update(address, func(state *deviceState) {
		state.Class = &class
	})
}

// WriteDiscoverableTimeout persists the discoverability timeout for an
// adapter.
func (s *Store) WriteDiscoverableTimeout(address bluetooth.MacAddress, timeout uint32) error {
	return s.update(address, func(state *deviceState) {
		state.DiscoverableTimeout = &timeout
	})
}
