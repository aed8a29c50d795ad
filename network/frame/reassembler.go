package frame

import "fmt"

// Reassembler accumulates stream bytes and yields complete frames. It is not
// safe for concurrent use; each connection owns one.
type Reassembler struct {
	maxBody int
	buf     []byte
}

// NewReassembler creates a reassembler rejecting bodies larger than maxBody.
// A non-positive maxBody means no limit.
func NewReassembler(maxBody int) *Reassembler {
	return &Reassembler{maxBody: maxBody}
}

// Feed appends p and returns every frame completed by it. Returned bodies do
// not alias p or internal storage. After an error the reassembler is reset
// and the stream should be abandoned.
func (r *Reassembler) Feed(p []byte) ([]Frame, error) {
	r.buf = append(r.buf, p...)

	var frames []Frame
	off := 0
	for len(r.buf)-off >= HEAD_SIZE {
		hdr, err := DecodeHead(r.buf[off:])
		if err != nil {
			r.Reset()
			return frames, err
		}
		if r.maxBody > 0 && int64(hdr.BodySize) > int64(r.maxBody) {
			r.Reset()
			return frames, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, hdr.BodySize, r.maxBody)
		}
		end := off + HEAD_SIZE + int(hdr.BodySize)
		if end > len(r.buf) {
			break
		}
		body := make([]byte, hdr.BodySize)
		copy(body, r.buf[off+HEAD_SIZE:end])
		frames = append(frames, Frame{Flags: hdr.Flags, Body: body})
		off = end
	}

	if off > 0 {
		n := copy(r.buf, r.buf[off:])
		r.buf = r.buf[:n]
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset drops any partial frame.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}
