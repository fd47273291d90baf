// Package needle implements the on-disk record format for the Store's
// append-only volumes: a length-prefixed, self-describing record so a
// volume can be replayed without its index.
//
// Wire layout, big-endian:
//
//	[magic:4][photo_id:8][flags:1][size:4][payload:size][checksum:32][trailer:4]
package needle

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	headerMagic  = [4]byte{'H', 'A', 'Y', 'N'}
	trailerMagic = [4]byte{'N', 'Y', 'A', 'H'}
)

// FlagTombstone marks a needle as a deletion marker for its photo_id.
const FlagTombstone byte = 1 << 0

// HeaderSize is the fixed-size portion preceding the payload.
const HeaderSize = 4 + 8 + 1 + 4

// FooterSize is the fixed-size portion following the payload.
const FooterSize = 32 + 4

// Overhead is the total non-payload bytes written per needle.
const Overhead = HeaderSize + FooterSize

var (
	// ErrBadMagic means the header or trailer magic bytes didn't match;
	// the needle (and everything after it, if read sequentially) is
	// considered not written or corrupt.
	ErrBadMagic = errors.New("needle: bad magic")
	// ErrChecksumMismatch means the payload's SHA256 didn't match the
	// stored checksum.
	ErrChecksumMismatch = errors.New("needle: checksum mismatch")
	// ErrTruncated means fewer bytes were available than the needle claims.
	ErrTruncated = errors.New("needle: truncated record")
)

// Needle is one append-unit record: either a blob write or a tombstone.
type Needle struct {
	PhotoID  uint64
	Flags    byte
	Payload  []byte
	Checksum [32]byte
}

// IsTombstone reports whether this needle marks its photo_id as deleted.
func (n *Needle) IsTombstone() bool {
	return n.Flags&FlagTombstone != 0
}

// NewData constructs a needle for a live payload, computing its checksum.
func NewData(photoID uint64, payload []byte) *Needle {
	return &Needle{
		PhotoID:  photoID,
		Flags:    0,
		Payload:  payload,
		Checksum: sha256.Sum256(payload),
	}
}

// NewTombstone constructs a zero-payload deletion marker.
func NewTombstone(photoID uint64) *Needle {
	return &Needle{PhotoID: photoID, Flags: FlagTombstone}
}

// EncodedLen returns the number of bytes Encode will write for this needle.
func (n *Needle) EncodedLen() int {
	return Overhead + len(n.Payload)
}

// Encode appends the wire representation of n to buf and returns the result.
func (n *Needle) Encode(buf []byte) []byte {
	buf = append(buf, headerMagic[:]...)
	buf = binary.BigEndian.AppendUint64(buf, n.PhotoID)
	buf = append(buf, n.Flags)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(n.Payload)))
	buf = append(buf, n.Payload...)
	sum := n.Checksum
	if sum == ([32]byte{}) && len(n.Payload) > 0 {
		sum = sha256.Sum256(n.Payload)
	}
	buf = append(buf, sum[:]...)
	buf = append(buf, trailerMagic[:]...)
	return buf
}

// Decode reads exactly one needle from r, validating magic and checksum.
// It returns (needle, totalBytesRead, err). On ErrTruncated, totalBytesRead
// reports how many bytes were consumed before the short read so a caller
// replaying a volume can stop there.
func Decode(r io.Reader) (*Needle, int, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, n, ErrTruncated
		}
		return nil, n, err
	}
	if !magicEqual(header[0:4], headerMagic) {
		return nil, n, ErrBadMagic
	}
	photoID := binary.BigEndian.Uint64(header[4:12])
	flags := header[12]
	size := binary.BigEndian.Uint32(header[13:17])

	payload := make([]byte, size)
	read, err := io.ReadFull(r, payload)
	n += read
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, n, ErrTruncated
		}
		return nil, n, err
	}

	footer := make([]byte, FooterSize)
	read, err = io.ReadFull(r, footer)
	n += read
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, n, ErrTruncated
		}
		return nil, n, err
	}
	var checksum [32]byte
	copy(checksum[:], footer[0:32])
	if !magicEqual(footer[32:36], trailerMagic) {
		return nil, n, ErrBadMagic
	}

	nd := &Needle{PhotoID: photoID, Flags: flags, Payload: payload, Checksum: checksum}
	if flags&FlagTombstone == 0 {
		if sha256.Sum256(payload) != checksum {
			return nd, n, ErrChecksumMismatch
		}
	}
	return nd, n, nil
}

func magicEqual(b []byte, m [4]byte) bool {
	return len(b) == 4 && b[0] == m[0] && b[1] == m[1] && b[2] == m[2] && b[3] == m[3]
}

// String is useful for test failure messages.
func (n *Needle) String() string {
	return fmt.Sprintf("needle{id=%d flags=%02x size=%d}", n.PhotoID, n.Flags, len(n.Payload))
}
