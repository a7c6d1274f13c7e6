package packet

import (
	"sync"
	"testing"

	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type login struct {
	User string
}

func (l *login) PacketID() uint16   { return 1 }
func (l *login) PacketName() string { return "login" }
func (l *login) ReadPacket(b *buffer.Buffer) error {
	l.User = b.ReadString()
	return b.Err()
}

type logout struct{}

func (*logout) PacketID() uint16                { return 2 }
func (*logout) PacketName() string              { return "logout" }
func (*logout) ReadPacket(*buffer.Buffer) error { return nil }

type clash struct{ logout }

func (*clash) PacketName() string { return "clash" }

type valueOnly struct{}

func (valueOnly) PacketID() uint16                { return 9 }
func (valueOnly) PacketName() string              { return "value" }
func (valueOnly) ReadPacket(*buffer.Buffer) error { return nil }

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(
		Descriptor{ID: 2, Name: "logout", New: func() Readable { return &logout{} }},
		Descriptor{ID: 1, Name: "login", New: func() Readable { return &login{} }},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []uint16{1, 2}, r.IDs())
	assert.Equal(t, uint16(2), r.MaxID())
	assert.Equal(t, "login", r.Name(1))
	assert.Equal(t, "unknown(7)", r.Name(7))

	p, err := r.FindByID(1)
	require.NoError(t, err)
	assert.IsType(t, &login{}, p)
}

func TestNewRegistry_DuplicateID(t *testing.T) {
	_, err := NewRegistry(
		Descriptor{ID: 5, Name: "a", New: func() Readable { return &logout{} }},
		Descriptor{ID: 5, Name: "b", New: func() Readable { return &logout{} }},
	)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestNewRegistry_MissingFactory(t *testing.T) {
	_, err := NewRegistry(Descriptor{ID: 1, Name: "broken"})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestMustRegistry_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustRegistry(Descriptor{ID: 1, Name: "broken"})
	})
}

func TestFindByID_Unknown(t *testing.T) {
	r := MustRegistry()
	_, err := r.FindByID(42)
	assert.ErrorIs(t, err, ErrUnknownPacket)

	_, ok := r.Lookup(42)
	assert.False(t, ok)
}

func TestFindByID_ReturnsFreshInstances(t *testing.T) {
	r, err := Scan(&login{})
	require.NoError(t, err)

	a, err := r.FindByID(1)
	require.NoError(t, err)
	b, err := r.FindByID(1)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestScan(t *testing.T) {
	r, err := Scan(&login{}, &logout{}, "not a packet", 42)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, r.IDs())

	d, ok := r.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, "logout", d.Name)

	buf := buffer.New(16, nil)
	buf.PutString("ada")
	p, err := r.FindByID(1)
	require.NoError(t, err)
	require.NoError(t, p.ReadPacket(buf))
	assert.Equal(t, "ada", p.(*login).User)
}

func TestScan_DuplicateID(t *testing.T) {
	_, err := Scan(&logout{}, &clash{})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestScan_RequiresPointer(t *testing.T) {
	_, err := Scan(valueOnly{})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	r, err := Scan(&login{}, &logout{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_, err := r.FindByID(uint16(j%2 + 1))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestRaw(t *testing.T) {
	in := &Raw{Payload: []byte{1, 2, 3}}
	b := buffer.New(8, nil)
	require.NoError(t, in.WritePacket(b))
	assert.Equal(t, 3, in.ExpectedSize())

	out := &Raw{}
	require.NoError(t, out.ReadPacket(b))
	assert.Equal(t, []byte{1, 2, 3}, out.Payload)

	b.Reset()
	b.PutUint8(9)
	assert.Equal(t, []byte{1, 2, 3}, out.Payload, "payload must not alias the buffer")
}
