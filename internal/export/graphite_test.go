package export

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startCarbon accepts a single connection and returns everything written to it.
func startCarbon(t *testing.T) (GraphiteConfig, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		data, _ := io.ReadAll(conn)
		received <- string(data)
	}()

	addr := ln.Addr().(*net.TCPAddr)

	return GraphiteConfig{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		Timeout: 2 * time.Second,
	}, received
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return port
}

func TestGraphiteExporter_Export(t *testing.T) {
	cfg, received := startCarbon(t)

	e := NewGraphiteExporter(testLog(), cfg)
	e.now = func() time.Time { return time.Unix(1700000000, 0) }

	err := e.Export(context.Background(), Batch{
		"fnm.total.incoming.pps":            10,
		"fnm.total.incoming.bps":            8000,
		"fnm.hosts.10_0_0_1.incoming.flows": 3,
	})
	require.NoError(t, err)

	select {
	case data := <-received:
		lines := strings.Split(strings.TrimSpace(data), "\n")
		assert.Equal(t, []string{
			"fnm.hosts.10_0_0_1.incoming.flows 3 1700000000",
			"fnm.total.incoming.bps 8000 1700000000",
			"fnm.total.incoming.pps 10 1700000000",
		}, lines)
	case <-time.After(2 * time.Second):
		t.Fatal("carbon receiver got nothing")
	}
}

func TestGraphiteExporter_Unreachable(t *testing.T) {
	e := NewGraphiteExporter(testLog(), GraphiteConfig{
		Host:    "127.0.0.1",
		Port:    closedPort(t),
		Timeout: time.Second,
	})

	err := e.Export(context.Background(), Batch{"fnm.total.other.pps": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to graphite")
}

func TestGraphiteExporter_StalledReceiverTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	// Accept and hold the connection without ever reading from it.
	held := make(chan net.Conn, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		held <- conn
	}()

	t.Cleanup(func() {
		select {
		case conn := <-held:
			conn.Close()
		default:
		}
	})

	// Large enough to fill the socket buffers on both ends.
	batch := make(Batch, 300000)
	for i := 0; i < 300000; i++ {
		batch[fmt.Sprintf("fnm.hosts.10_%d_%d_%d.incoming.bps_padding_to_fill_the_buffers", i>>16, (i>>8)&0xff, i&0xff)] = uint64(i)
	}

	timeout := 300 * time.Millisecond
	e := NewGraphiteExporter(testLog(), GraphiteConfig{
		Host:    "127.0.0.1",
		Port:    ln.Addr().(*net.TCPAddr).Port,
		Timeout: timeout,
	})

	start := time.Now()
	err = e.Export(context.Background(), batch)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing to graphite")
	assert.Less(t, elapsed, timeout+2*time.Second)
}

func TestGraphiteExporter_EmptyBatch(t *testing.T) {
	// Nothing listens on this port, so any connection attempt would fail.
	e := NewGraphiteExporter(testLog(), GraphiteConfig{
		Host: "127.0.0.1",
		Port: closedPort(t),
	})

	assert.NoError(t, e.Export(context.Background(), Batch{}))
	assert.NoError(t, e.Export(context.Background(), nil))
}

func TestGraphiteExporter_Defaults(t *testing.T) {
	e := NewGraphiteExporter(testLog(), GraphiteConfig{Host: "carbon"})

	assert.Equal(t, 2003, e.Config().Port)
	assert.Equal(t, 10*time.Second, e.Config().Timeout)
	assert.Equal(t, "carbon:"+strconv.Itoa(2003), e.Config().Addr())
	assert.Equal(t, "graphite", e.Name())
}

func TestBatch_Keys(t *testing.T) {
	b := Batch{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, b.Keys())
	assert.Empty(t, Batch{}.Keys())
}
