package pcap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// pcapng files start with a section header block, whose type reads the same in
// either byte order
const ngSectionHeader uint32 = 0x0a0d0d0a

// Offline a capture file being read, pcap or pcapng. ReadPacketData returns
// io.EOF after the last frame.
type Offline struct {
	path     string
	file     io.Closer
	source   gopacket.PacketDataSource
	linkType layers.LinkType
}

var _ gopacket.PacketDataSource = (*Offline)(nil)

// OpenOffline open a capture file. A path of "-" reads standard input.
func OpenOffline(path string) (*Offline, error) {
	var (
		r      io.ReadCloser
		logger = log.WithField("file", path)
	)
	if path == "-" {
		r = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
		}
		r = f
	}
	o, err := newOffline(path, r)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	logger.WithField("linktype", o.linkType).Debug("opened")
	return o, nil
}

func newOffline(path string, r io.ReadCloser) (*Offline, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file header %s: %w", path, err)
	}
	o := &Offline{path: path, file: r}
	if binary.BigEndian.Uint32(magic) == ngSectionHeader {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("invalid pcapng file %s: %w", path, err)
		}
		o.source, o.linkType = ng, ng.LinkType()
		return o, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("invalid pcap file %s: %w", path, err)
	}
	o.source, o.linkType = pr, pr.LinkType()
	return o, nil
}

func (o *Offline) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := o.source.ReadPacketData()
	// a file cut off mid-record, as a killed writer leaves it, ends like a complete one
	if err == io.EOF || (err == io.ErrUnexpectedEOF && len(data) == 0) {
		return nil, ci, io.EOF
	}
	if err != nil {
		return nil, ci, fmt.Errorf("failed to read packet from %s: %w", o.path, err)
	}
	return data, ci, nil
}

// LinkType of every frame in the file; for pcapng, that of the first interface.
func (o *Offline) LinkType() layers.LinkType {
	return o.linkType
}

func (o *Offline) Close() error {
	return o.file.Close()
}
