package wire

// BuildQuery encodes a single-question A-record query for name, stamped
// with the given transaction ID. The RD bit is set (recursion desired),
// matching original_source/madns.c's send_request, which always queries a
// recursive upstream rather than walking the hierarchy itself.
func BuildQuery(tid uint16, name string) ([]byte, error) {
	encoded, err := encodeName(name)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(encoded)+4)
	putUint16(buf, 0, tid)
	putUint16(buf, 2, flagRD)
	putUint16(buf, 4, 1) // QDCount
	putUint16(buf, 6, 0)
	putUint16(buf, 8, 0)
	putUint16(buf, 10, 0)

	buf = append(buf, encoded...)
	buf = append(buf, 0, TypeA, 0, ClassIN)
	return buf, nil
}
