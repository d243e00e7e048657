// Package pcap supplies raw frames for dissection: live capture from a network
// interface, offline reading of pcap and pcapng files, and an adapter from any
// gopacket.PacketDataSource to a dissect.Source.
package pcap

/*
 MacOS uses a /dev/bpf* device instead of a raw socket. Some good examples:
  https://github.com/c-bata/xpcap/blob/master/sniffer.c#L50
  https://gist.github.com/2opremio/6fda363ab384b0d85347956fb79a3927
 Linux uses a raw AF_PACKET socket, read one frame per recvmsg(2) with MSG_TRUNC so
 the wire length is known even when the frame is cut to the snap length.
  For syscall-based capture: see http://www.microhowto.info/howto/capture_ethernet_frames_using_an_af_packet_socket_in_c.html
 Both block in poll(2) on the capture descriptor and a self-pipe, so cancelling the
 context passed to OpenLive, or closing the handle, wakes a blocked read.
*/
