//go:build linux

package hci

import (
	"context"
	"encoding/binary"
	"strconv"
	"unsafe"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluewire-org/bluetooth-hostd/api/bluetooth"
	"golang.org/x/sys/unix"
)

// Socket option and address constants for the control channel.
const (
	solHCI       = 0
	hciFilterOpt = 2

	// devNone binds the control socket to no specific adapter.
	devNone = 0xffff

	// maxAdapters bounds the presence enumeration.
	maxAdapters = 16
)

// ioctl request codes for the adapter control operations.
const (
	hciDevUp         = 0x400448c9
	hciGetDevList    = 0x800448d2
	hciGetDevInfo    = 0x800448d3
	hciSetScan       = 0x400448dd
	hciSetPacketType = 0x400448e0
	hciSetLinkPolicy = 0x400448e1
	hciSetLinkMode   = 0x400448e2
)

// ioctl issues a request carrying a pointer argument.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}

	return nil
}

// openRaw opens a raw control socket bound to the given adapter index,
// or to no adapter when devNone is passed.
func openRaw(dev uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return -1, err
	}

	sa := &unix.SockaddrHCI{Dev: dev, Channel: unix.HCI_CHANNEL_RAW}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// Socket is the daemon's control channel: one raw socket bound to no
// specific adapter, filtered at the kernel level to deliver only internal
// stack events. It implements bluetooth.ControlChannel.
type Socket struct {
	fd  int
	buf [MaxFrameSize]byte
}

// NewSocket creates, filters and binds the control socket. Failures here
// occur before the daemon serves traffic and are fatal to startup.
func NewSocket() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "control-socket-open"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot open control socket"),
		)
	}

	if err := unix.SetsockoptString(fd, solHCI, hciFilterOpt, string(eventFilter())); err != nil {
		unix.Close(fd)
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "control-socket-filter"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot install event filter"),
		)
	}

	sa := &unix.SockaddrHCI{Dev: devNone, Channel: unix.HCI_CHANNEL_RAW}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "control-socket-bind"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot bind control socket"),
		)
	}

	return &Socket{fd: fd}, nil
}

// ReadEvent reads one frame from the control socket. A transient
// would-block condition and irrelevant frames both return (nil, nil);
// any other read failure is fatal to the reactor.
func (s *Socket) ReadEvent() (*bluetooth.DeviceEvent, error) {
	n, err := unix.Read(s.fd, s.buf[:])
	if err == unix.EAGAIN || err == unix.EINTR {
		return nil, nil
	}

	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "control-socket-read"),
			ftag.With(ftag.Internal),
			fmsg.With("Read from control socket failed"),
		)
	}

	event, ok := DecodeDeviceEvent(s.buf[:n])
	if !ok {
		return nil, nil
	}

	return &event, nil
}

// ListAdapters enumerates the currently present adapters in
// kernel-reported order, with their up flag.
func (s *Socket) ListAdapters() ([]bluetooth.AdapterPresence, error) {
	// A device-count header followed by per-device request records.
	buf := make([]byte, 4+maxAdapters*8)
	binary.LittleEndian.PutUint16(buf[0:2], maxAdapters)

	if err := ioctl(s.fd, hciGetDevList, unsafe.Pointer(&buf[0])); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "control-socket-devlist"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot enumerate adapters"),
		)
	}

	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	if count > maxAdapters {
		count = maxAdapters
	}

	present := make([]bluetooth.AdapterPresence, 0, count)
	for i := 0; i < count; i++ {
		record := buf[4+i*8:]

		present = append(present, bluetooth.AdapterPresence{
			ID: binary.LittleEndian.Uint16(record[0:2]),
			Up: binary.LittleEndian.Uint32(record[4:8])&bluetooth.AdapterFlagUp != 0,
		})
	}

	return present, nil
}

// Close releases the control socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// Transport opens per-adapter control handles. It implements
// bluetooth.ControlTransport.
type Transport struct{}

// NewTransport returns the adapter control transport.
func NewTransport() *Transport {
	return &Transport{}
}

// Open opens a control handle to the adapter with the given index.
func (t *Transport) Open(id uint16) (bluetooth.AdapterControl, error) {
	fd, err := openRaw(id)
	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "adapter-open",
				"adapter", strconv.Itoa(int(id)),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot open adapter"),
		)
	}

	return &Adapter{fd: fd, id: id}, nil
}

// Adapter is one open adapter control handle. It implements
// bluetooth.AdapterControl.
type Adapter struct {
	fd int
	id uint16
}

// Info queries the controller information for the adapter.
func (a *Adapter) Info() (bluetooth.AdapterInfo, error) {
	var info bluetooth.AdapterInfo

	// Mirrors the kernel's device-info record: index, name, address,
	// flags, type and the feature bitmap, of which only the leading
	// fields are consumed.
	buf := make([]byte, 96)
	binary.LittleEndian.PutUint16(buf[0:2], a.id)

	if err := ioctl(a.fd, hciGetDevInfo, unsafe.Pointer(&buf[0])); err != nil {
		return info, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "adapter-info",
				"adapter", strconv.Itoa(int(a.id)),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot query adapter information"),
		)
	}

	info.ID = binary.LittleEndian.Uint16(buf[0:2])

	name := buf[2:10]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	info.Name = string(name)

	// The kernel reports the address least significant byte first.
	for i := 0; i < 6; i++ {
		info.Address[i] = buf[15-i]
	}

	info.Flags = binary.LittleEndian.Uint32(buf[16:20])
	copy(info.Features[:], buf[21:29])

	return info, nil
}

// BringUp starts the adapter. An adapter that is already up is not an
// error.
func (a *Adapter) BringUp() error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(a.fd), hciDevUp, uintptr(a.id))
	if errno != 0 && errno != unix.EALREADY {
		return fault.Wrap(errno,
			fctx.With(context.Background(),
				"error_at", "adapter-up",
				"adapter", strconv.Itoa(int(a.id)),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot bring up adapter"),
		)
	}

	return nil
}

// request issues a device-request ioctl carrying one option value.
func (a *Adapter) request(req uintptr, opt uint32, errorAt string, issue string) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:2], a.id)
	binary.LittleEndian.PutUint32(buf[4:8], opt)

	if err := ioctl(a.fd, req, unsafe.Pointer(&buf[0])); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", errorAt,
				"adapter", strconv.Itoa(int(a.id)),
			),
			ftag.With(ftag.Internal),
			fmsg.With(issue),
		)
	}

	return nil
}

// SetScan applies a scan-mode bitmask.
func (a *Adapter) SetScan(mode uint32) error {
	return a.request(hciSetScan, mode, "adapter-set-scan", "Cannot set scan mode")
}

// SetPacketType applies a packet-type mask.
func (a *Adapter) SetPacketType(ptype uint32) error {
	return a.request(hciSetPacketType, ptype, "adapter-set-ptype", "Cannot set packet type")
}

// SetLinkMode applies a link-mode mask.
func (a *Adapter) SetLinkMode(mode uint32) error {
	return a.request(hciSetLinkMode, mode, "adapter-set-linkmode", "Cannot set link mode")
}

// SetLinkPolicy applies a link-policy mask.
func (a *Adapter) SetLinkPolicy(policy uint32) error {
	return a.request(hciSetLinkPolicy, policy, "adapter-set-linkpolicy", "Cannot set link policy")
}

// SendCommand sends a host-controller command on the adapter socket.
func (a *Adapter) SendCommand(ogf, ocf uint16, payload []byte) error {
	if _, err := unix.Write(a.fd, commandPacket(ogf, ocf, payload)); err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "adapter-send-command",
				"adapter", strconv.Itoa(int(a.id)),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot send command"),
		)
	}

	return nil
}

// Close releases the adapter handle.
func (a *Adapter) Close() error {
	return unix.Close(a.fd)
}
