package bitstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// The raw file format is a sequence of little-endian 32-bit words, frame by
// frame, with each frame padded to a whole number of words. Bit i of a frame
// is bit i%32 of word i/32.

func rawWordsPerFrame(frameBits int) int {
	return (frameBits + 31) / 32
}

// Read decodes a raw bitstream with the given geometry from r.
func Read(r io.Reader, frames, frameBits int) (*Bitstream, error) {
	b := New(frames, frameBits)
	br := bufio.NewReader(r)
	wpf := rawWordsPerFrame(frameBits)
	var buf [4]byte
	for f := 0; f < frames; f++ {
		for w := 0; w < wpf; w++ {
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, fmt.Errorf("bitstream: frame %d word %d: %w", f, w, err)
			}
			word := binary.LittleEndian.Uint32(buf[:])
			for i := 0; i < 32; i++ {
				bit := w*32 + i
				if bit >= frameBits {
					if word>>uint(i) != 0 {
						return nil, fmt.Errorf("bitstream: frame %d has bits set past width %d", f, frameBits)
					}
					break
				}
				if word&(1<<uint(i)) != 0 {
					b.Set(Addr{Frame: f, Bit: bit}, true)
				}
			}
		}
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("bitstream: trailing data after %d frames", frames)
	}
	return b, nil
}

// ReadFile opens path and decodes it with Read.
func ReadFile(path string, frames, frameBits int) (*Bitstream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bitstream: failed to open file: %w", err)
	}
	defer f.Close()

	return Read(f, frames, frameBits)
}

// WriteTo encodes b in the raw format.
func (b *Bitstream) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	wpf := rawWordsPerFrame(b.FrameBits)
	var n int64
	var buf [4]byte
	for f := 0; f < b.Frames; f++ {
		for wi := 0; wi < wpf; wi++ {
			var word uint32
			for i := 0; i < 32; i++ {
				bit := wi*32 + i
				if bit >= b.FrameBits {
					break
				}
				if b.Get(Addr{Frame: f, Bit: bit}) {
					word |= 1 << uint(i)
				}
			}
			binary.LittleEndian.PutUint32(buf[:], word)
			m, err := bw.Write(buf[:])
			n += int64(m)
			if err != nil {
				return n, err
			}
		}
	}
	return n, bw.Flush()
}
