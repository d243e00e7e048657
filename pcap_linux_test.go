package pcap

import (
	"context"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
)

func TestOpenLiveAnyInterface(t *testing.T) {
	handle, err := OpenLive(context.Background(), "", 1600, false, 0)
	if err != nil {
		t.Skipf("live capture unavailable: %v", err)
	}
	defer handle.Close()
	// an unbound socket has no device to ask, so Ethernet is assumed
	assert.Equal(t, layers.LinkTypeEthernet, handle.LinkType())
}
