package mux

import "bytes"

// extractFrames splits buf on newline boundaries, returning every complete
// frame found (without its trailing newline) and the leftover bytes that
// must be retained for the next read. Grounded on
// daemon/serialport/io.go's readUntilDelimiter, generalized from a single
// blocking read to scanning over an already-buffered, possibly
// multi-frame chunk, since the readiness-driven poll loop can never block
// waiting on one connection (spec.md §4.5 "Framing").
func extractFrames(buf []byte) (frames [][]byte, rest []byte) {
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, buf[:idx])
		frames = append(frames, frame)
		buf = buf[idx+1:]
	}
	rest = make([]byte, len(buf))
	copy(rest, buf)
	return frames, rest
}
