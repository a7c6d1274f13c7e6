package network

import (
	"errors"
	"testing"

	"github.com/marmos91/packetnet/pkg/buffer"
	"github.com/marmos91/packetnet/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsizedPacket writes n bytes without announcing its size.
type unsizedPacket struct{ n int }

func (p *unsizedPacket) WritePacket(b *buffer.Buffer) error {
	b.PutBytes(make([]byte, p.n))
	return b.Err()
}

type failingPacket struct{}

func (failingPacket) WritePacket(*buffer.Buffer) error { return errors.New("cannot encode") }

type bigIDPacket struct{}

func (bigIDPacket) PacketID() uint16                 { return 300 }
func (bigIDPacket) WritePacket(*buffer.Buffer) error { return nil }

func TestWriter_EncodesHeaderIDAndBody(t *testing.T) {
	rec := &sliceRecorder{}
	c, _ := newTestConn(t, testConfig(), Options{Registry: testRegistry(t), Recorder: rec})
	w := c.writer

	assert.True(t, w.encode(&pingPacket{Seq: 0x0A0B0C0D}))
	assert.True(t, w.encode(&packet.Raw{Payload: []byte("xy")}))

	want := append(pingFrame(0x0A0B0C0D), 2, 0, 'x', 'y')
	assert.Equal(t, want, w.buf.Bytes())
	assert.Equal(t, 2, w.batch)

	require.Len(t, rec.records, 2)
	assert.False(t, rec.records[0].inbound)
	assert.Equal(t, pingFrame(0x0A0B0C0D)[2:], rec.records[0].payload)
}

func TestWriter_BigEndianOneByteHeader(t *testing.T) {
	cfg := testConfig()
	cfg.HeaderSize = 1
	cfg.PacketIDSize = 1
	cfg.ByteOrder = "big"
	c, _ := newTestConn(t, cfg, Options{Registry: testRegistry(t)})

	assert.True(t, c.writer.encode(&pingPacket{Seq: 0x0102}))
	assert.Equal(t, []byte{5, 1, 0, 0, 1, 2}, c.writer.buf.Bytes())
}

func TestWriter_CarriesSizedPacketToNextFlush(t *testing.T) {
	cfg := testConfig()
	cfg.WriteBufferSize = 16
	c, _ := newTestConn(t, cfg, Options{})
	w := c.writer

	assert.True(t, w.encode(&packet.Raw{Payload: make([]byte, 10)}))
	second := &packet.Raw{Payload: make([]byte, 10)}
	assert.False(t, w.encode(second))
	assert.Same(t, second, w.carry)
	assert.Equal(t, 12, w.buf.Len())

	p, ok := w.next(false)
	assert.True(t, ok)
	assert.Same(t, second, p)
	assert.Nil(t, w.carry)
}

func TestWriter_CarriesUnsizedPacketOnOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.WriteBufferSize = 16
	c, _ := newTestConn(t, cfg, Options{})
	w := c.writer

	assert.True(t, w.encode(&unsizedPacket{n: 6}))
	before := append([]byte(nil), w.buf.Bytes()...)

	second := &unsizedPacket{n: 10}
	assert.False(t, w.encode(second))
	assert.Same(t, second, w.carry)
	assert.Equal(t, before, w.buf.Bytes(), "partial frame is rolled back")
	assert.NoError(t, w.buf.Err())
}

func TestWriter_DropsPacketsThatNeverFit(t *testing.T) {
	cfg := testConfig()
	cfg.WriteBufferSize = 16
	c, _ := newTestConn(t, cfg, Options{})
	w := c.writer

	assert.True(t, w.encode(&packet.Raw{Payload: make([]byte, 100)}))
	assert.True(t, w.encode(&unsizedPacket{n: 100}))
	assert.Nil(t, w.carry)
	assert.Equal(t, 0, w.buf.Len())
	assert.NoError(t, w.buf.Err())
}

func TestWriter_DropsAboveMaxPacketSize(t *testing.T) {
	cfg := testConfig()
	cfg.WriteBufferSize = 1024
	cfg.MaxPacketSize = 8
	c, _ := newTestConn(t, cfg, Options{})

	assert.True(t, c.writer.encode(&unsizedPacket{n: 9}))
	assert.Equal(t, 0, c.writer.buf.Len())

	assert.True(t, c.writer.encode(&unsizedPacket{n: 8}))
	assert.Equal(t, 10, c.writer.buf.Len())
}

func TestWriter_DropsEncodeFailures(t *testing.T) {
	cfg := testConfig()
	cfg.PacketIDSize = 1
	c, _ := newTestConn(t, cfg, Options{Registry: testRegistry(t)})
	w := c.writer

	assert.True(t, w.encode(&pingPacket{Seq: 1}))
	size := w.buf.Len()

	assert.True(t, w.encode(failingPacket{}))
	assert.True(t, w.encode(bigIDPacket{}))
	assert.Equal(t, size, w.buf.Len())
	assert.Equal(t, 1, w.batch)
}
