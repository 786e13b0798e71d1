package iface

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPFrameRoundTrip(t *testing.T) {
	ln, err := ListenTCP(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	client, err := DialTCP(ln.ln.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	payload := []byte("hello bdt")
	require.NoError(t, client.WriteFrame(payload))
	got, err := server.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestTCPFrameOversizeRejected(t *testing.T) {
	ln, err := ListenTCP(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, _ := ln.Accept()
		if c != nil {
			defer c.Close()
		}
	}()

	client, err := DialTCP(ln.ln.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	defer client.Close()

	err = client.WriteFrame(make([]byte, MaxTCPFrame+1))
	require.Error(t, err)
}

func TestUDPInterfaceSendsAndReceivesDatagrams(t *testing.T) {
	a, err := NewUDPInterface(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewUDPInterface(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2048)
		n, _, err := b.conn.ReadFromUDP(buf)
		if err == nil {
			received <- buf[:n]
		}
	}()

	remoteAddr := b.conn.LocalAddr().(*net.UDPAddr)
	require.NoError(t, a.WriteRaw(remoteAddr, []byte("datagram payload")))

	select {
	case got := <-received:
		require.Equal(t, []byte("datagram payload"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive datagram")
	}
}
