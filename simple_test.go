package pcap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetcap/go-sniff/dissect"
)

const (
	tstMsg = "The quick brown fox jumps over the lazy dog!"
)

func enableLogs() {

	log.SetReportCaller(true)
	log.SetLevel(log.TraceLevel)
	log.SetFormatter(&log.TextFormatter{
		DisableTimestamp: true,
		PadLevelText:     true,
		QuoteEmptyFields: true,
		ForceColors:      true, // If you run an IDE in no pty mode then you probably want to also force color mode
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1] + "()"
			_, filename := path.Split(f.File)
			return funcName, filename + ":" + strconv.Itoa(f.Line)
		},
	})
}

func loopback() string {
	if runtime.GOOS == "linux" {
		return "lo"
	}
	return "lo0"
}

// openLoopback open a live capture on the loopback interface, skipping the test
// when the process lacks the privileges to capture.
func openLoopback(t *testing.T, ctx context.Context, timeout time.Duration) *Handle {
	t.Helper()
	handle, err := OpenLive(ctx, loopback(), 1600, false, timeout)
	if err != nil {
		t.Skipf("live capture unavailable: %v", err)
	}
	t.Cleanup(handle.Close)
	return handle
}

func Test_simpleMsg(t *testing.T) {
	enableLogs()
	localhost := net.ParseIP("127.0.0.1")
	keepGoing := atomic.Bool{}
	keepGoing.Store(true)
	wg := &sync.WaitGroup{}
	defer wg.Wait()
	defer keepGoing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handle := openLoopback(t, ctx, 0)
	dstPort := runPublisher(t, localhost, wg, &keepGoing)
	filter := fmt.Sprintf("udp and dst port %d and dst host %s", dstPort, localhost)
	require.NoError(t, handle.SetBPFFilter(filter))

	t.Logf("capturing from interface '%s' and port %d\n", loopback(), dstPort)
	// frames queued before the kernel filter was attached are dropped here
	src, err := NewSource(handle, handle.LinkType(), WithFilter(filter))
	require.NoError(t, err)
	// loopback frames carry offloaded checksums, so they are not verified
	eng := dissect.NewEngine()

	var count int
	for f, err := range dissect.Frames(src) {
		if err != nil {
			require.ErrorIs(t, err, context.DeadlineExceeded)
			break
		}
		d, derr := eng.Dissect(f)
		require.NoError(t, derr)
		udp, ok := d.Transport().(*dissect.UDP)
		require.True(t, ok, "filter let through %v", d.Layers)
		assert.Equal(t, dstPort, udp.DstPort)
		assert.Equal(t, []byte(tstMsg), d.Tail)
		assert.False(t, f.Info.Timestamp.IsZero())
		count++
		if count == 5 {
			break
		}
	}
	t.Logf("We got %d packets", count)
	assert.Positive(t, count)
}

func TestReadTimeout(t *testing.T) {
	handle := openLoopback(t, context.Background(), 50*time.Millisecond)
	// a host that never talks to us
	require.NoError(t, handle.SetBPFFilter("host 192.0.2.1"))
	assert.ErrorIs(t, readUntilError(handle), ErrReadTimeout)
}

// readUntilError skip frames queued before the filter was attached
func readUntilError(h *Handle) error {
	for {
		if _, _, err := h.ReadPacketData(); err != nil {
			return err
		}
	}
}

func TestCancelWakesRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := openLoopback(t, ctx, 0)
	require.NoError(t, handle.SetBPFFilter("host 192.0.2.1"))

	done := make(chan error, 1)
	go func() {
		done <- readUntilError(handle)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after cancel")
	}
}

func TestCloseWakesRead(t *testing.T) {
	handle := openLoopback(t, context.Background(), 0)
	require.NoError(t, handle.SetBPFFilter("host 192.0.2.1"))

	done := make(chan error, 1)
	go func() {
		done <- readUntilError(handle)
	}()
	time.Sleep(50 * time.Millisecond)
	handle.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after close")
	}
	// idempotent
	handle.Close()
}

func TestOpenLiveValidation(t *testing.T) {
	_, err := OpenLive(context.Background(), loopback(), 0, false, 0)
	assert.Error(t, err)
	_, err = OpenLive(context.Background(), loopback(), MaxSnaplen+1, false, 0)
	assert.Error(t, err)
	_, err = OpenLive(context.Background(), loopback(), 1500, false, -time.Second)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = OpenLive(ctx, loopback(), 1500, false, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func runPublisher(t *testing.T, dstAddr net.IP, wg *sync.WaitGroup, keepGoing *atomic.Bool) (port uint16) {
	// Create a UDP connection here with port 0 so the OS can assign us an open port
	localhostAddr, err := net.ResolveUDPAddr("udp", dstAddr.String()+":0")
	if err != nil {
		t.Fatal(err)
	}
	recv, err := net.ListenUDP("udp", localhostAddr)
	if err != nil {
		t.Fatal(err)
	}
	sendUDP, err := net.DialUDP("udp", nil, recv.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	// Get the port number that the OS assigned to us.
	port = uint16(recv.LocalAddr().(*net.UDPAddr).Port)

	wg.Add(1)
	go func() {
		// This thread will just be sending out messages to our localhost till we are told to stop
		defer wg.Done()
		defer recv.Close()
		defer sendUDP.Close()
		for keepGoing.Load() {
			if _, err := sendUDP.Write([]byte(tstMsg)); err != nil {
				// Ignoring connection refused, we just want to send the messages
				if !strings.Contains(err.Error(), "connection refused") {
					t.Errorf("Failed to set/send message:%s\n", err.Error())
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Log("Done publishing")
	}()

	return port
}
