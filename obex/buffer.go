package obex

// growthIncrement is the transfer buffer's growth step. The buffer grows
// by one increment whenever free space drops below the amount reserved;
// tests of buffer-size-dependent behavior rely on this exact policy.
const growthIncrement = 4096

// buffer is a growable byte buffer with explicit fill tracking. The
// filled counter marks how many leading bytes are currently valid.
type buffer struct {
	data   []byte
	filled int
}

// reserve grows the buffer until at least n bytes of headroom exist.
func (b *buffer) reserve(n int) {
	for len(b.data)-b.filled < n {
		b.data = append(b.data, make([]byte, growthIncrement)...)
	}
}

// headroom returns the writable tail of the buffer.
func (b *buffer) headroom() []byte {
	return b.data[b.filled:]
}

// valid returns the filled prefix of the buffer.
func (b *buffer) valid() []byte {
	return b.data[:b.filled]
}

// consume drops the first n valid bytes, retaining only the unwritten
// remainder at the start of the buffer.
func (b *buffer) consume(n int) {
	copy(b.data, b.data[n:b.filled])
	b.filled -= n
}

// reset empties the buffer without releasing its capacity.
func (b *buffer) reset() {
	b.filled = 0
}
