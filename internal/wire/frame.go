package wire

import (
	"encoding/binary"
	"io"

	"github.com/marmos91/voltclient/internal/bufpool"
)

// MaxMessageLength bounds a single frame payload to 50MB. Anything larger
// is treated as a corrupt length prefix, not a legitimate message.
const MaxMessageLength = 50 << 20

// ReadFrame reads one length-prefixed message: a 4-byte big-endian payload
// length followed by exactly that many payload bytes.
//
// The returned slice is backed by the frame buffer pool; the caller must
// hand it back via ReleaseFrame once the payload has been decoded. A clean
// EOF on the length prefix is returned as io.EOF so callers can tell a
// normal peer close from a mid-frame truncation (io.ErrUnexpectedEOF).
// A non-positive or oversized length fails with ErrMalformed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := int32(binary.BigEndian.Uint32(header[:]))
	if length <= 0 {
		return nil, malformedf("frame length %d", length)
	}
	if length > MaxMessageLength {
		return nil, malformedf("frame length %d exceeds maximum %d", length, MaxMessageLength)
	}

	payload := bufpool.Get(int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		bufpool.Put(payload)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// ReleaseFrame returns a payload obtained from ReadFrame to the buffer pool.
func ReleaseFrame(payload []byte) {
	bufpool.Put(payload)
}

// WriteFrame writes the 4-byte length prefix and the payload through a
// single Write call, so concurrent writers on distinct connections and the
// OS never observe a torn frame boundary from buffering.
func WriteFrame(w io.Writer, payload []byte) error {
	framed := bufpool.Get(4 + len(payload))
	defer bufpool.Put(framed)

	binary.BigEndian.PutUint32(framed[:4], uint32(len(payload)))
	copy(framed[4:], payload)

	_, err := w.Write(framed)
	return err
}
