package kvcache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// currentVersion is the protocol version written to every catalog header.
const currentVersion uint8 = 1

const (
	maxFieldLen = 1<<16 - 1 // u16 bound on key/meta length
	maxValueLen = 1<<32 - 1 // u32 bound on inline value length
)

// record is one parsed catalog entry (spec 4.1 decode): key, meta, and
// optionally an inline value when the catalog was written in
// [ModeSingleFile].
type record struct {
	key      string
	meta     map[string]any
	value    []byte
	hasValue bool
}

// encodeHeader returns the two-byte catalog header.
func encodeHeader(version uint8, mode Mode) []byte {
	return []byte{version, byte(mode)}
}

// encodeMeta serializes meta to its UTF-8 JSON representation. A nil or
// empty map encodes to nil, written as a zero-length meta frame.
func encodeMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}

	return json.Marshal(meta)
}

func decodeMeta(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}

	var meta map[string]any
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("kvcache: decode meta: %w", err)
	}

	return meta, nil
}

// writeRecord emits one record frame to w: keyLen+key, metaLen+meta, and
// (mode permitting) valueLen+value. metaLen is written as 0 when meta is
// absent, never omitted, per spec 4.1.
func writeRecord(w io.Writer, mode Mode, key string, meta []byte, value []byte) error {
	if len(key) > maxFieldLen {
		return fmt.Errorf("%w: key %q", errFieldTooLarge, key)
	}

	if len(meta) > maxFieldLen {
		return fmt.Errorf("%w: meta for key %q", errFieldTooLarge, key)
	}

	var buf bytes.Buffer

	var u16 [2]byte

	binary.LittleEndian.PutUint16(u16[:], uint16(len(key)))
	buf.Write(u16[:])
	buf.WriteString(key)

	binary.LittleEndian.PutUint16(u16[:], uint16(len(meta)))
	buf.Write(u16[:])
	buf.Write(meta)

	if mode == ModeSingleFile {
		if len(value) > maxValueLen {
			return fmt.Errorf("%w: key %q", errValueTooLarge, key)
		}

		var u32 [4]byte

		binary.LittleEndian.PutUint32(u32[:], uint32(len(value)))
		buf.Write(u32[:])
		buf.Write(value)
	}

	_, err := w.Write(buf.Bytes())

	return err
}

// decodeCatalog reads a full catalog from r. If the header's version byte
// does not match currentVersion, it returns (nil, 0, errVersionMismatch):
// a successful, not-an-error termination (spec 4.1) meaning the cache is to
// be treated as empty. Any other read/parse error ends decoding at the
// furthest successful record boundary and returns the records decoded so
// far alongside the error, so the Loader can still install a partial map
// per its "any read/parse error completes the load" rule.
func decodeCatalog(r io.Reader) (records []record, mode Mode, err error) {
	br := bufio.NewReader(r)

	header := make([]byte, 2)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, 0, err
	}

	if header[0] != currentVersion {
		return nil, 0, errVersionMismatch
	}

	mode = Mode(header[1])

	for {
		rec, ok, recErr := decodeRecord(br, mode)
		if recErr != nil {
			return records, mode, recErr
		}

		if !ok {
			return records, mode, nil
		}

		records = append(records, rec)
	}
}

// decodeRecord reads one record. ok is false on a clean EOF before any
// bytes of a new record were read.
func decodeRecord(r *bufio.Reader, mode Mode) (rec record, ok bool, err error) {
	var u16 [2]byte

	_, err = io.ReadFull(r, u16[:])
	if err != nil {
		if err == io.EOF {
			return record{}, false, nil
		}

		return record{}, false, err
	}

	keyLen := binary.LittleEndian.Uint16(u16[:])

	keyBytes := make([]byte, keyLen)
	if _, err = io.ReadFull(r, keyBytes); err != nil {
		return record{}, false, err
	}

	if _, err = io.ReadFull(r, u16[:]); err != nil {
		return record{}, false, err
	}

	metaLen := binary.LittleEndian.Uint16(u16[:])

	var metaBytes []byte
	if metaLen > 0 {
		metaBytes = make([]byte, metaLen)
		if _, err = io.ReadFull(r, metaBytes); err != nil {
			return record{}, false, err
		}
	}

	meta, err := decodeMeta(metaBytes)
	if err != nil {
		return record{}, false, err
	}

	rec = record{key: string(keyBytes), meta: meta}

	if mode != ModeSingleFile {
		return rec, true, nil
	}

	var u32 [4]byte

	if _, err = io.ReadFull(r, u32[:]); err != nil {
		return record{}, false, err
	}

	valueLen := binary.LittleEndian.Uint32(u32[:])

	value := make([]byte, valueLen)
	if _, err = io.ReadFull(r, value); err != nil {
		return record{}, false, err
	}

	rec.value = value
	rec.hasValue = true

	return rec, true, nil
}
