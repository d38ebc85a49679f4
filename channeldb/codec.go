package channeldb

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
)

// maxBlobSize bounds the size of a single nested record.
const maxBlobSize = 1 << 20

// encodeTime converts a timestamp into unix nanoseconds. The zero time is
// stored as zero.
func encodeTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	return uint64(t.UnixNano())
}

// decodeTime is the inverse of encodeTime. Timestamps come back in UTC.
func decodeTime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}

	return time.Unix(0, int64(v)).UTC()
}

// serializeRecords encodes records into a TLV stream.
func serializeRecords(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeRecords decodes a TLV stream into records and returns the set
// of types that were present.
func deserializeRecords(data []byte, records ...tlv.Record) (tlv.TypeMap,
	error) {

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	typeMap, err := stream.DecodeWithParsedTypes(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return typeMap, nil
}

// hasType reports whether typ was present in a decoded stream.
func hasType(typeMap tlv.TypeMap, typ tlv.Type) bool {
	_, ok := typeMap[typ]
	return ok
}

// writeBlobs writes a list of byte strings, each prefixed by its varint
// length, after the varint count.
func writeBlobs(w io.Writer, blobs [][]byte) error {
	var buf [8]byte
	if err := tlv.WriteVarInt(w, uint64(len(blobs)), &buf); err != nil {
		return err
	}

	for _, blob := range blobs {
		err := tlv.WriteVarInt(w, uint64(len(blob)), &buf)
		if err != nil {
			return err
		}
		if _, err := w.Write(blob); err != nil {
			return err
		}
	}

	return nil
}

// readBlobs is the inverse of writeBlobs.
func readBlobs(r io.Reader) ([][]byte, error) {
	var buf [8]byte
	count, err := tlv.ReadVarInt(r, &buf)
	if err != nil {
		return nil, err
	}

	blobs := make([][]byte, 0, min(count, 64))
	for i := uint64(0); i < count; i++ {
		size, err := tlv.ReadVarInt(r, &buf)
		if err != nil {
			return nil, err
		}

		if size > maxBlobSize {
			return nil, fmt.Errorf("blob of %d bytes exceeds limit",
				size)
		}

		blob := make([]byte, size)
		if _, err := io.ReadFull(r, blob); err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}

	return blobs, nil
}

// encodeBlobs returns the writeBlobs encoding of blobs.
func encodeBlobs(blobs [][]byte) ([]byte, error) {
	var b bytes.Buffer
	if err := writeBlobs(&b, blobs); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeBlobs decodes an encodeBlobs encoding. Empty input is an empty
// list.
func decodeBlobs(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	blobs, err := readBlobs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return blobs, nil
}
