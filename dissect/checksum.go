package dissect

// Internet checksum (RFC 1071). A header whose stored checksum is correct sums
// to 0xffff, so verification folds the whole covered range and compares.

func sum16(initial uint32, b []byte) uint32 {
	s := initial
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		s += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)&1 == 1 {
		s += uint32(b[len(b)-1]) << 8
	}
	return s
}

func fold(s uint32) uint16 {
	for s>>16 != 0 {
		s = s&0xffff + s>>16
	}
	return uint16(s)
}

// Checksum computes the internet checksum of b.
func Checksum(b []byte) uint16 {
	return ^fold(sum16(0, b))
}

func checksumValid(b []byte) bool {
	return fold(sum16(0, b)) == 0xffff
}

// pseudoHeaderSum partial sum of the IPv4 pseudo-header used by TCP and UDP.
func pseudoHeaderSum(ip *IPv4, length int) uint32 {
	src, dst := ip.Src.As4(), ip.Dst.As4()
	s := sum16(0, src[:])
	s = sum16(s, dst[:])
	s += uint32(ip.Protocol)
	s += uint32(length)
	return s
}

func transportChecksumValid(ip *IPv4, segment []byte) bool {
	return fold(sum16(pseudoHeaderSum(ip, len(segment)), segment)) == 0xffff
}
