package bluetooth

// AdapterState indicates the lifecycle state of an adapter.
type AdapterState string

// The different adapter lifecycle states.
const (
	StateRegistered   AdapterState = "registered"
	StateUp           AdapterState = "up"
	StateDown         AdapterState = "down"
	StateUnregistered AdapterState = "unregistered"
)

// AdapterData holds the static adapter information.
type AdapterData struct {
	// Name is the kernel name of the adapter ("hci0").
	Name string `json:"name,omitempty" codec:"Name,omitempty" doc:"The kernel name of the adapter."`

	AdapterEventData
}

// AdapterEventData holds the dynamic (variable) adapter information.
// This is primarily used to send adapter event related data.
type AdapterEventData struct {
	// ID holds the kernel-assigned adapter index.
	ID uint16 `json:"id" codec:"ID" doc:"The kernel-assigned adapter index."`

	// Address holds the hardware address of the adapter.
	Address MacAddress `json:"address,omitempty" codec:"Address,omitempty" doc:"The hardware address of the adapter."`

	// State indicates the lifecycle state of the adapter.
	State AdapterState `json:"state,omitempty" codec:"State,omitempty" enum:"registered,up,down,unregistered" doc:"The lifecycle state of the adapter."`
}

// DeviceEventKind enumerates the adapter lifecycle notifications
// delivered on the control channel.
type DeviceEventKind byte

// The different kinds of adapter lifecycle notifications. The values
// match the kernel's device event codes.
const (
	DeviceRegistered DeviceEventKind = iota + 1
	DeviceUnregistered
	DeviceUp
	DeviceDown
)

// deviceEventNames holds names of the lifecycle notification kinds.
var deviceEventNames = map[DeviceEventKind]string{
	DeviceRegistered:   "registered",
	DeviceUnregistered: "unregistered",
	DeviceUp:           "up",
	DeviceDown:         "down",
}

// String returns the name of the lifecycle notification kind.
func (k DeviceEventKind) String() string {
	return deviceEventNames[k]
}

// DeviceEvent is a decoded adapter lifecycle notification.
type DeviceEvent struct {
	// Kind holds the kind of the notification.
	Kind DeviceEventKind

	// ID holds the kernel-assigned adapter index.
	ID uint16
}

// AdapterPresence describes an adapter reported by the presence enumeration.
type AdapterPresence struct {
	// ID holds the kernel-assigned adapter index.
	ID uint16

	// Up indicates whether the adapter is currently up.
	Up bool
}

// Flag bits reported in AdapterInfo.Flags.
const (
	AdapterFlagUp  = 1 << 0
	AdapterFlagRaw = 1 << 8
)

// AdapterInfo holds the controller information reported by the kernel
// for one adapter.
type AdapterInfo struct {
	// ID holds the kernel-assigned adapter index.
	ID uint16

	// Name is the kernel name of the adapter ("hci0").
	Name string

	// Address holds the hardware address of the adapter.
	Address MacAddress

	// Flags holds the kernel device flag bits.
	Flags uint32

	// Features holds the controller's feature bitmap.
	Features [8]byte
}

// Up reports whether the adapter is up.
func (i AdapterInfo) Up() bool {
	return i.Flags&AdapterFlagUp != 0
}

// Raw reports whether the adapter is in raw (passthrough) mode.
// Raw adapters bypass all configuration.
func (i AdapterInfo) Raw() bool {
	return i.Flags&AdapterFlagRaw != 0
}

// HasExtendedInquiry reports whether the controller advertises
// extended-inquiry-response support.
func (i AdapterInfo) HasExtendedInquiry() bool {
	return i.Features[6]&0x01 != 0
}

// AdapterControl describes the control operations on one open adapter handle.
type AdapterControl interface {
	// Info queries the controller information.
	Info() (AdapterInfo, error)

	// BringUp starts the adapter. Bringing up an adapter that is
	// already up is not an error.
	BringUp() error

	// SetScan applies a scan-mode bitmask.
	SetScan(mode uint32) error

	// SetPacketType applies a packet-type mask.
	SetPacketType(ptype uint32) error

	// SetLinkMode applies a link-mode mask.
	SetLinkMode(mode uint32) error

	// SetLinkPolicy applies a link-policy mask.
	SetLinkPolicy(policy uint32) error

	// SendCommand sends a host-controller command with the given
	// opcode group, opcode and payload.
	SendCommand(ogf, ocf uint16, payload []byte) error

	// Close releases the adapter handle.
	Close() error
}

// ControlTransport opens control handles to adapters by index.
type ControlTransport interface {
	Open(id uint16) (AdapterControl, error)
}

// ControlChannel is the daemon's single notification channel: it delivers
// decoded adapter lifecycle events and enumerates present adapters.
type ControlChannel interface {
	// ReadEvent reads one frame from the channel and decodes it.
	// It returns (nil, nil) when the frame is irrelevant or no frame
	// is ready; any returned error is fatal to the caller's loop.
	ReadEvent() (*DeviceEvent, error)

	// ListAdapters enumerates the currently present adapters in
	// kernel-reported order.
	ListAdapters() ([]AdapterPresence, error)

	// Close releases the channel.
	Close() error
}
