package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/atinyakov/ShareKeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep counts sleeps instead of blocking.
type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(d time.Duration) {
	r.calls = append(r.calls, d)
}

func TestRecvTimeout_ImmediateHit(t *testing.T) {
	rs := &recordingSleep{}
	got, err := RecvTimeout(func() (int, bool, error) { return 7, true, nil }, time.Second, rs.sleep)
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Empty(t, rs.calls)
}

func TestRecvTimeout_ThirdAttempt(t *testing.T) {
	rs := &recordingSleep{}
	attempts := 0
	recv := func() (int, bool, error) {
		attempts++
		if attempts == 3 {
			return 42, true, nil
		}
		return 0, false, nil
	}

	got, err := RecvTimeout(recv, 100*time.Millisecond, rs.sleep)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, rs.calls)
}

func TestRecvTimeout_Exhausted(t *testing.T) {
	rs := &recordingSleep{}
	attempts := 0
	recv := func() (int, bool, error) {
		attempts++
		return 0, false, nil
	}

	_, err := RecvTimeout(recv, 10*time.Millisecond, rs.sleep)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 3, attempts)
	assert.Len(t, rs.calls, 2)
}

func TestRecvTimeout_ErrorStopsPolling(t *testing.T) {
	rs := &recordingSleep{}
	wantErr := errors.New("reset")
	attempts := 0
	recv := func() (int, bool, error) {
		attempts++
		return 0, false, wantErr
	}

	_, err := RecvTimeout(recv, time.Second, rs.sleep)
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rs.calls)
}

func TestConn_SendWordMasksBigEndian(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)
	c.SetKey(0xFFFF0000)

	require.NoError(t, c.SendWord(0x12345678))
	assert.Equal(t, []byte{0xED, 0xCB, 0x56, 0x78}, buf.Bytes())
}

func TestConn_RecvWordUnmasks(t *testing.T) {
	c := NewConn(bytes.NewBuffer([]byte{0xED, 0xCB, 0x56, 0x78}))
	c.SetKey(0xFFFF0000)

	w, ok, err := c.RecvWord()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x12345678), w)
}

func TestConn_RecvWordEOFIsNoMessage(t *testing.T) {
	c := NewConn(&bytes.Buffer{})

	_, ok, err := c.RecvWord()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConn_RecvWordPartialIsError(t *testing.T) {
	c := NewConn(bytes.NewBuffer([]byte{0x01, 0x02}))

	_, _, err := c.RecvWord()
	require.ErrorIs(t, err, ErrWordTruncated)
}

func TestConn_FrameRoundTripWithMask(t *testing.T) {
	var buf bytes.Buffer
	tx := NewConn(&buf)
	rx := NewConn(&buf)
	tx.SetKey(0xCAFEBABE)
	rx.SetKey(0xCAFEBABE)

	f := models.Frame{
		Idx: 0x01020304,
		Tag: models.TagRefresh,
		Msg: 0x090A0B0C,
		Key: 0xCAFEBABE,
		Sig: 0x0102030405060708,
		Ext: 0xBEEF,
		Sum: 0x0D0E0F00,
	}
	require.NoError(t, tx.SendFrame(f))
	assert.Equal(t, models.FrameWords*WordSize, buf.Len())

	got, err := rx.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestConn_PartialFrameTimesOut(t *testing.T) {
	var buf bytes.Buffer
	tx := NewConn(&buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, tx.SendWord(uint32(i)))
	}

	rs := &recordingSleep{}
	rx := NewConn(&buf, WithTimeout(20*time.Millisecond), WithSleep(rs.sleep))
	_, err := rx.RecvFrame()
	require.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, rs.calls, 2)
}

func TestConn_TCPFrameExchange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	f := models.Frame{Idx: 1, Tag: models.TagPublicKey, Key: 0xCAFE, Sig: models.PlaceholderSig(0xCAFE), Sum: models.RequestSum}

	done := make(chan error, 1)
	go func() {
		sock, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		srv := NewConn(sock)
		defer srv.Close()
		srv.SetKey(99)
		got, err := srv.RecvFrame()
		if err != nil {
			done <- err
			return
		}
		done <- srv.SendFrame(got)
	}()

	sock, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	cli := NewConn(sock)
	defer cli.Close()
	cli.SetKey(99)

	require.NoError(t, cli.SendFrame(f))
	echo, err := cli.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, f, echo)
	require.NoError(t, <-done)
}

func TestConn_SilentPeerHitsDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		sock, err := ln.Accept()
		if err == nil {
			accepted <- sock
		}
	}()

	sock, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer sock.Close()
	peer := <-accepted
	defer peer.Close()

	c := NewConn(sock)
	start := time.Now()
	_, err = c.RecvWordTimeout(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConn_CloseNonCloser(t *testing.T) {
	c := NewConn(struct{ io.ReadWriter }{&bytes.Buffer{}})
	assert.NoError(t, c.Close())
}
