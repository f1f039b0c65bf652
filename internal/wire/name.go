package wire

import "strings"

// normalize lowercases a name and trims a single trailing dot, matching the
// case-insensitive comparison original_source/madns.c performs on cached
// and requested names.
func normalize(name string) string {
	name = strings.TrimSuffix(name, ".")
	return strings.ToLower(name)
}

// NormalizeName exposes normalize to other packages (the cache needs it to
// hash and compare names the same way the wire codec does).
func NormalizeName(name string) string {
	return normalize(name)
}

// HashName is the FNV-1a 32-bit hash over a normalized name, with the same
// final xor-shift-add mixing original_source/madns.c's fnvstr applies.
// This mixing step is not part of the canonical FNV-1a definition; it is
// carried over unchanged because the cache's load-factor and collision
// behavior were tuned against it.
func HashName(name string) uint32 {
	name = normalize(name)
	var hash uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		hash ^= uint32(name[i])
		hash *= 16777619
	}
	hash += hash << 13
	hash ^= hash >> 7
	hash += hash << 3
	hash ^= hash >> 17
	hash += hash << 5
	return hash
}

// encodeName writes name as a sequence of length-prefixed labels terminated
// by a zero byte. name is normalized first; empty labels (from doubled
// dots) are skipped, every other label must be at most 63 bytes, and the
// encoded form (including length bytes and terminator) must not exceed
// MaxName.
func encodeName(name string) ([]byte, error) {
	name = normalize(name)
	var out []byte
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			if len(label) == 0 {
				continue
			}
			if len(label) > MaxLabel {
				return nil, ErrLabelTooLong
			}
			out = append(out, byte(len(label)))
			out = append(out, label...)
		}
	}
	out = append(out, 0)
	if len(out) > MaxName {
		return nil, ErrNameTooLong
	}
	return out, nil
}

// decodeName reads a (possibly compressed) name starting at off within msg
// and returns the dotted, lowercased name plus the offset immediately past
// the name *as it appears in the message* (i.e. past the first pointer, if
// any, not past whatever it points to).
func decodeName(msg []byte, off int) (string, int, error) {
	var labels []string
	start := off
	jumped := false
	jumps := 0
	cur := off
	end := off // offset to return when we stop reading literal bytes

	for {
		if cur >= len(msg) {
			return "", 0, ErrTruncated
		}
		b := msg[cur]
		switch {
		case b == 0:
			cur++
			if !jumped {
				end = cur
			}
			return strings.Join(labels, "."), end, nil
		case b&0xc0 == 0xc0:
			if cur+1 >= len(msg) {
				return "", 0, ErrTruncated
			}
			if jumps >= maxCompressionJumps {
				return "", 0, ErrTooManyJumps
			}
			ptr := int(b&0x3f)<<8 | int(msg[cur+1])
			if ptr >= start {
				// forward or self pointer: can't be part of a well-formed
				// message (compression only ever points backwards).
				return "", 0, ErrBadPointer
			}
			if !jumped {
				end = cur + 2
			}
			jumped = true
			jumps++
			cur = ptr
			start = ptr
		case b&0xc0 != 0:
			return "", 0, ErrBadPointer
		default:
			labelLen := int(b)
			if cur+1+labelLen > len(msg) {
				return "", 0, ErrTruncated
			}
			labels = append(labels, strings.ToLower(string(msg[cur+1:cur+1+labelLen])))
			cur += 1 + labelLen
			if !jumped {
				end = cur
			}
		}
	}
}

// skipName advances past a name without decoding it, for walking over RR
// names we don't need the text of (e.g. an RR's owner name).
func skipName(msg []byte, off int) (int, error) {
	_, next, err := decodeName(msg, off)
	return next, err
}
