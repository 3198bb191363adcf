package framing

// BitBuffer is a fixed-capacity bit store. It never grows.
type BitBuffer struct {
	bits [MaxResponseBits]uint8
	n    int
}

func (b *BitBuffer) Push(bit uint8) error {
	if b.n >= len(b.bits) {
		return ErrBufferFull
	}
	b.bits[b.n] = bit & 1
	b.n++
	return nil
}

func (b *BitBuffer) Len() int { return b.n }

func (b *BitBuffer) IsEmpty() bool { return b.n == 0 }

// At returns bit i. It panics when i is out of range like a slice index.
func (b *BitBuffer) At(i int) uint8 { return b.bits[:b.n][i] }

// Bits exposes the filled part of the buffer. The slice aliases the buffer.
func (b *BitBuffer) Bits() []uint8 { return b.bits[:b.n] }

func (b *BitBuffer) Reset() { b.n = 0 }

// MessageBuffer accumulates decoded characters up to MaxMessageLen.
type MessageBuffer struct {
	buf [MaxMessageLen]byte
	n   int
}

func (m *MessageBuffer) Push(c byte) error {
	if m.n >= len(m.buf) {
		return ErrMessageTooLong
	}
	m.buf[m.n] = c
	m.n++
	return nil
}

func (m *MessageBuffer) Len() int { return m.n }

func (m *MessageBuffer) String() string { return string(m.buf[:m.n]) }

func (m *MessageBuffer) Reset() { m.n = 0 }
