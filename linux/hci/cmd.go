package hci

import "encoding/binary"

// Host-controller command opcode groups and opcodes used by the
// configurator.
const (
	OgfHostControl = 0x03

	OcfChangeLocalName              = 0x0013
	OcfWritePageTimeout             = 0x0018
	OcfWriteClassOfDevice           = 0x0024
	OcfWriteVoiceSetting            = 0x0026
	OcfWriteExtendedInquiryResponse = 0x0052
)

// eirNameLimit is the longest local name carried in an
// extended-inquiry-response payload before it is shortened.
const eirNameLimit = 48

// ChangeLocalName builds the change-local-name parameter block. The
// name is truncated to the field's capacity and zero-padded.
func ChangeLocalName(name string) []byte {
	payload := make([]byte, MaxNameLength)
	copy(payload, name)

	return payload
}

// WriteExtendedInquiryResponse builds the extended-inquiry-response
// parameter block carrying the local name. Names longer than the EIR
// limit are truncated and tagged as shortened.
func WriteExtendedInquiryResponse(name string) []byte {
	payload := make([]byte, 1+240)

	// payload[0] is the FEC requirement, left off.
	tag := byte(0x09)
	if len(name) > eirNameLimit {
		name = name[:eirNameLimit]
		tag = 0x08
	}

	payload[1] = byte(len(name) + 1)
	payload[2] = tag
	copy(payload[3:], name)

	return payload
}

// WriteClassOfDevice builds the write-class-of-device parameter block:
// the low three bytes of the class value, least significant first.
func WriteClassOfDevice(class uint32) []byte {
	return []byte{byte(class), byte(class >> 8), byte(class >> 16)}
}

// WriteVoiceSetting builds the write-voice-setting parameter block.
func WriteVoiceSetting(voice uint16) []byte {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, voice)

	return payload
}

// WritePageTimeout builds the write-page-timeout parameter block.
func WritePageTimeout(timeout uint16) []byte {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, timeout)

	return payload
}

// commandPacket frames a command for the adapter socket.
func commandPacket(ogf, ocf uint16, payload []byte) []byte {
	packet := make([]byte, 4+len(payload))

	packet[0] = packetTypeCommand
	binary.LittleEndian.PutUint16(packet[1:3], ocf&0x03ff|ogf<<10)
	packet[3] = byte(len(payload))
	copy(packet[4:], payload)

	return packet
}
