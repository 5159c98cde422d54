// Package mobi decodes MOBI/PRC containers into ordered HTML fragments.
// Only the PalmDoc text path is handled: no-compression and LZ77 records,
// UTF-8 or cp1252 text. HUFF/CDIC compression and encrypted books are
// reported as an unsupported layout.
package mobi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/text/encoding/charmap"
)

// Sentinel errors returned by Decode.
var (
	// ErrNotMobi indicates the data is not a PalmDB container with a
	// MOBI/PalmDoc payload.
	ErrNotMobi = errors.New("mobi: not a mobi container")

	// ErrUnsupportedLayout indicates a structurally valid container whose
	// internal layout this decoder does not handle (HUFF/CDIC compression,
	// DRM encryption).
	ErrUnsupportedLayout = errors.New("mobi: unsupported internal layout")

	// ErrCorrupt indicates a malformed record or truncated container.
	ErrCorrupt = errors.New("mobi: corrupt container")
)

// Fragment is one independently addressable unit of decoded content.
type Fragment struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

// Document is the decoded container: fragments in reading order.
type Document struct {
	Fragments []Fragment
}

const (
	palmHeaderSize = 78
	recordInfoSize = 8

	compressionNone     = 1
	compressionPalmDoc  = 2
	compressionHuffCdic = 17480

	encodingCP1252 = 1252
	encodingUTF8   = 65001
)

// pagebreakPattern matches the MOBI chapter separator markup.
var pagebreakPattern = regexp.MustCompile(`(?i)<mbp:pagebreak[^>]*/?>`)

// Decode parses a PalmDB container and returns its content fragments in
// spine order. A container that decodes cleanly but holds no text yields a
// Document with zero fragments; classifying that as an error is left to
// the caller.
func Decode(data []byte) (*Document, error) {
	db, err := parsePalmDB(data)
	if err != nil {
		return nil, err
	}

	rec0, err := db.record(0)
	if err != nil {
		return nil, err
	}
	if len(rec0) < 16 {
		return nil, fmt.Errorf("%w: record 0 too short", ErrCorrupt)
	}

	compression := binary.BigEndian.Uint16(rec0[0:2])
	recordCount := int(binary.BigEndian.Uint16(rec0[8:10]))
	encryption := binary.BigEndian.Uint16(rec0[12:14])

	switch {
	case encryption != 0:
		return nil, fmt.Errorf("%w: encrypted text", ErrUnsupportedLayout)
	case compression == compressionHuffCdic:
		return nil, fmt.Errorf("%w: HUFF/CDIC compression", ErrUnsupportedLayout)
	case compression != compressionNone && compression != compressionPalmDoc:
		return nil, fmt.Errorf("%w: compression type %d", ErrCorrupt, compression)
	}

	textEncoding, extraFlags := parseMobiHeader(rec0)

	var text []byte
	for i := 1; i <= recordCount; i++ {
		rec, err := db.record(i)
		if err != nil {
			return nil, err
		}
		rec = trimTrailingEntries(rec, extraFlags)
		if compression == compressionPalmDoc {
			chunk, err := palmDocDecompress(rec)
			if err != nil {
				return nil, err
			}
			text = append(text, chunk...)
		} else {
			text = append(text, rec...)
		}
	}

	html, err := decodeText(text, textEncoding)
	if err != nil {
		return nil, err
	}

	return &Document{Fragments: splitFragments(html)}, nil
}

// palmDB is the parsed record directory of a PalmDB file.
type palmDB struct {
	data    []byte
	offsets []uint32
}

func parsePalmDB(data []byte) (*palmDB, error) {
	if len(data) < palmHeaderSize {
		return nil, ErrNotMobi
	}
	// Type/creator at offsets 60..68 identify a MOBI payload. PRC files
	// carry the same "BOOKMOBI" signature.
	if string(data[60:68]) != "BOOKMOBI" {
		return nil, ErrNotMobi
	}

	numRecords := int(binary.BigEndian.Uint16(data[76:78]))
	if numRecords == 0 {
		return nil, fmt.Errorf("%w: empty record list", ErrCorrupt)
	}
	if len(data) < palmHeaderSize+numRecords*recordInfoSize {
		return nil, fmt.Errorf("%w: truncated record list", ErrCorrupt)
	}

	offsets := make([]uint32, numRecords)
	for i := 0; i < numRecords; i++ {
		off := binary.BigEndian.Uint32(data[palmHeaderSize+i*recordInfoSize:])
		if off > uint32(len(data)) {
			return nil, fmt.Errorf("%w: record %d offset out of range", ErrCorrupt, i)
		}
		offsets[i] = off
	}

	return &palmDB{data: data, offsets: offsets}, nil
}

// record returns the raw bytes of record i.
func (db *palmDB) record(i int) ([]byte, error) {
	if i < 0 || i >= len(db.offsets) {
		return nil, fmt.Errorf("%w: record %d out of range", ErrCorrupt, i)
	}
	start := db.offsets[i]
	end := uint32(len(db.data))
	if i+1 < len(db.offsets) {
		end = db.offsets[i+1]
	}
	if start > end {
		return nil, fmt.Errorf("%w: record %d inverted bounds", ErrCorrupt, i)
	}
	return db.data[start:end], nil
}

// parseMobiHeader extracts the text encoding and the extra-data flags from
// the MOBI header embedded in record 0. Plain PalmDoc files have no MOBI
// header; they default to cp1252 with no trailing entries.
func parseMobiHeader(rec0 []byte) (textEncoding uint32, extraFlags uint16) {
	textEncoding = encodingCP1252
	if len(rec0) < 24 || string(rec0[16:20]) != "MOBI" {
		return
	}
	headerLen := binary.BigEndian.Uint32(rec0[20:24])
	if len(rec0) >= 32 {
		textEncoding = binary.BigEndian.Uint32(rec0[28:32])
	}
	// Extra-data flags live at MOBI header offset 0xE2 and only exist in
	// newer headers.
	if headerLen >= 0xE4 && len(rec0) >= 16+0xE4 {
		extraFlags = binary.BigEndian.Uint16(rec0[16+0xE2 : 16+0xE4])
	}
	return
}

// trimTrailingEntries removes the variable-size trailing entries appended
// to text records, as described by the extra-data flags. Bit 0 flags a
// multibyte character overlap trailer; higher bits flag size-prefixed
// entries encoded as backward-variable-width integers.
func trimTrailingEntries(rec []byte, flags uint16) []byte {
	for bit := 15; bit > 0; bit-- {
		if flags&(1<<uint(bit)) == 0 {
			continue
		}
		n := int(backwardVarint(rec))
		if n <= 0 || n > len(rec) {
			return rec
		}
		rec = rec[:len(rec)-n]
	}
	if flags&1 != 0 && len(rec) > 0 {
		n := int(rec[len(rec)-1]&0x3) + 1
		if n <= len(rec) {
			rec = rec[:len(rec)-n]
		}
	}
	return rec
}

// backwardVarint reads the variable-width integer stored at the end of a
// record, including its own length.
func backwardVarint(rec []byte) uint32 {
	var v uint32
	for i := len(rec) - 4; i < len(rec); i++ {
		if i < 0 {
			continue
		}
		b := rec[i]
		if b&0x80 != 0 {
			v = 0
		}
		v = (v << 7) | uint32(b&0x7F)
	}
	return v
}

// decodeText converts raw record bytes to a UTF-8 string.
func decodeText(raw []byte, textEncoding uint32) (string, error) {
	switch textEncoding {
	case encodingUTF8:
		return string(raw), nil
	case encodingCP1252:
		out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: cp1252 text: %v", ErrCorrupt, err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("%w: text encoding %d", ErrUnsupportedLayout, textEncoding)
	}
}

// splitFragments cuts the concatenated HTML stream at MOBI page breaks.
// Empty fragments (consecutive breaks, leading break) are dropped.
func splitFragments(html string) []Fragment {
	parts := pagebreakPattern.Split(html, -1)
	frags := make([]Fragment, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		frags = append(frags, Fragment{
			ID:   fmt.Sprintf("frag-%04d", len(frags)+1),
			HTML: p,
		})
	}
	return frags
}
