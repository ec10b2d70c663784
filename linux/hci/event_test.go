package hci

import (
	"encoding/binary"
	"testing"

	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceFrame(kind uint16, id uint16) []byte {
	frame := make([]byte, 9)
	frame[0] = packetTypeEvent
	frame[1] = eventStackInternal
	frame[2] = 6
	binary.LittleEndian.PutUint16(frame[3:5], stackInternalDevice)
	binary.LittleEndian.PutUint16(frame[5:7], kind)
	binary.LittleEndian.PutUint16(frame[7:9], id)

	return frame
}

func TestDecodeDeviceEvent(t *testing.T) {
	cases := []struct {
		kind uint16
		want bluetooth.DeviceEventKind
	}{
		{1, bluetooth.DeviceRegistered},
		{2, bluetooth.DeviceUnregistered},
		{3, bluetooth.DeviceUp},
		{4, bluetooth.DeviceDown},
	}

	for _, c := range cases {
		event, ok := DecodeDeviceEvent(deviceFrame(c.kind, 2))
		require.True(t, ok, "kind %d", c.kind)
		assert.Equal(t, c.want, event.Kind)
		assert.Equal(t, uint16(2), event.ID)
	}
}

func TestDecodeDeviceEventIrrelevantFrames(t *testing.T) {
	short := deviceFrame(1, 0)[:8]
	_, ok := DecodeDeviceEvent(short)
	assert.False(t, ok, "truncated frame")

	command := deviceFrame(1, 0)
	command[0] = packetTypeCommand
	_, ok = DecodeDeviceEvent(command)
	assert.False(t, ok, "wrong packet type")

	other := deviceFrame(1, 0)
	other[1] = 0x05
	_, ok = DecodeDeviceEvent(other)
	assert.False(t, ok, "not a stack event")

	subtype := deviceFrame(1, 0)
	binary.LittleEndian.PutUint16(subtype[3:5], 0x0002)
	_, ok = DecodeDeviceEvent(subtype)
	assert.False(t, ok, "wrong sub-type")

	_, ok = DecodeDeviceEvent(deviceFrame(0, 0))
	assert.False(t, ok, "kind below range")

	_, ok = DecodeDeviceEvent(deviceFrame(5, 0))
	assert.False(t, ok, "kind above range")
}

func TestEventFilter(t *testing.T) {
	filter := eventFilter()
	require.Len(t, filter, 14)

	assert.Equal(t, uint32(1<<packetTypeEvent), binary.LittleEndian.Uint32(filter[0:4]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(filter[4:8]))
	assert.Equal(t, uint32(1<<(eventStackInternal&31)), binary.LittleEndian.Uint32(filter[8:12]))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(filter[12:14]))
}
