// Package hci implements the kernel control transport for local adapters:
// the raw control socket delivering adapter lifecycle notifications, the
// per-adapter control handles, and the host-controller command framing.
package hci

import (
	"encoding/binary"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
)

// Frame and packet constants.
const (
	// MaxFrameSize is the largest frame the control socket delivers.
	MaxFrameSize = 1028

	// MaxNameLength is the size of the controller's local name field.
	MaxNameLength = 248

	packetTypeCommand = 0x01
	packetTypeEvent   = 0x04

	// eventStackInternal identifies internal stack events on the
	// control channel.
	eventStackInternal = 0xfd

	// stackInternalDevice is the stack-internal sub-type carrying
	// adapter lifecycle notifications.
	stackInternalDevice = 0x0001
)

// DecodeDeviceEvent validates and decodes one control-channel frame.
// It reports false for any frame that is not an adapter lifecycle
// notification; such frames are not errors, just not relevant.
func DecodeDeviceEvent(frame []byte) (bluetooth.DeviceEvent, bool) {
	var event bluetooth.DeviceEvent

	if len(frame) < 9 {
		return event, false
	}

	if frame[0] != packetTypeEvent {
		return event, false
	}

	if frame[1] != eventStackInternal {
		return event, false
	}

	// frame[2] holds the parameter length; the embedded sub-type
	// and payload follow.
	if binary.LittleEndian.Uint16(frame[3:5]) != stackInternalDevice {
		return event, false
	}

	kind := binary.LittleEndian.Uint16(frame[5:7])
	if kind < uint16(bluetooth.DeviceRegistered) || kind > uint16(bluetooth.DeviceDown) {
		return event, false
	}

	event.Kind = bluetooth.DeviceEventKind(kind)
	event.ID = binary.LittleEndian.Uint16(frame[7:9])

	return event, true
}

// eventFilter builds the kernel-level filter restricting the control
// socket to internal stack events.
func eventFilter() []byte {
	filter := make([]byte, 14)

	// Packet type mask, then a 64-bit event mask, then an opcode.
	binary.LittleEndian.PutUint32(filter[0:4], 1<<packetTypeEvent)
	binary.LittleEndian.PutUint32(filter[4:8], 0)
	binary.LittleEndian.PutUint32(filter[8:12], 1<<(eventStackInternal&31))
	binary.LittleEndian.PutUint16(filter[12:14], 0)

	return filter
}
