package mobi

import "fmt"

// palmDocDecompress expands one PalmDoc (LZ77-variant) compressed text
// record. Uncompressed records are at most 4096 bytes.
func palmDocDecompress(rec []byte) ([]byte, error) {
	out := make([]byte, 0, 4096)
	for i := 0; i < len(rec); {
		b := rec[i]
		i++
		switch {
		case b == 0x00 || (b >= 0x09 && b <= 0x7F):
			// Literal byte.
			out = append(out, b)

		case b >= 0x01 && b <= 0x08:
			// Copy the next b bytes verbatim.
			n := int(b)
			if i+n > len(rec) {
				return nil, fmt.Errorf("%w: literal run past record end", ErrCorrupt)
			}
			out = append(out, rec[i:i+n]...)
			i += n

		case b >= 0x80 && b <= 0xBF:
			// Length/distance pair packed into two bytes.
			if i >= len(rec) {
				return nil, fmt.Errorf("%w: truncated backreference", ErrCorrupt)
			}
			pair := (uint16(b) << 8) | uint16(rec[i])
			i++
			distance := int((pair >> 3) & 0x7FF)
			length := int(pair&0x7) + 3
			if distance == 0 || distance > len(out) {
				return nil, fmt.Errorf("%w: backreference distance %d", ErrCorrupt, distance)
			}
			for j := 0; j < length; j++ {
				out = append(out, out[len(out)-distance])
			}

		default:
			// 0xC0-0xFF: a space followed by the byte with its high
			// bit cleared.
			out = append(out, ' ', b^0x80)
		}
	}
	return out, nil
}
