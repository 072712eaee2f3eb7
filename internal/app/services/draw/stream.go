package draw

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// stream yields a deterministic sequence of unbiased bounded integers from
// a seed by hashing seed||counter blocks.
type stream struct {
	seed    []byte
	counter uint64
	buf     [sha256.Size]byte
	off     int
}

func newStream(seedHex string) *stream {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		// Non-hex seeds are still usable as raw bytes.
		seed = []byte(seedHex)
	}
	s := &stream{seed: seed, off: sha256.Size}
	return s
}

func (s *stream) next8() uint64 {
	if s.off+8 > sha256.Size {
		var block [8]byte
		binary.BigEndian.PutUint64(block[:], s.counter)
		s.counter++
		h := sha256.New()
		h.Write(s.seed)
		h.Write(block[:])
		h.Sum(s.buf[:0])
		s.off = 0
	}
	v := binary.BigEndian.Uint64(s.buf[s.off : s.off+8])
	s.off += 8
	return v
}

// intn returns an integer in [0, n) selected uniformly via rejection
// sampling, avoiding the modulo bias of naive value%n reduction when n
// does not divide the generator's range.
func (s *stream) intn(n int) int {
	if n <= 0 {
		panic("draw: intn bound must be positive")
	}
	un := uint64(n)
	// Largest multiple of n representable in 64 bits is 2^64 - rem.
	rem := (^uint64(0)%un + 1) % un
	for {
		v := s.next8()
		if rem != 0 && v > ^uint64(0)-rem {
			continue
		}
		return int(v % un)
	}
}
