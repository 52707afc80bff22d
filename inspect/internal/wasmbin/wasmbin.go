package wasmbin

// Core module section IDs used here.
const (
	sectionImport byte = 0x02
)

// ImportKind identifies what a wasm import binds to.
type ImportKind byte

const (
	ImportFunc   ImportKind = 0x00
	ImportTable  ImportKind = 0x01
	ImportMemory ImportKind = 0x02
	ImportGlobal ImportKind = 0x03
)

// Import is one entry of a core module's import section.
type Import struct {
	Module string
	Name   string
	Kind   ImportKind
}

// IsModule reports whether bytes start with the core wasm preamble.
// Component binaries (layer 1) are rejected; they carry their own
// toolchain-level linking and are not dynamic modules in this sense.
func IsModule(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	if b[0] != 0x00 || b[1] != 'a' || b[2] != 's' || b[3] != 'm' {
		return false
	}
	return b[4] == 0x01 && b[5] == 0x00 && b[6] == 0x00 && b[7] == 0x00
}

// DecodeULEB128 decodes an unsigned LEB128 value, returning the value
// and the number of bytes consumed.
func DecodeULEB128(data []byte) (uint32, int) {
	var result uint32
	var shift uint32
	for i, b := range data {
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
		if shift > 35 {
			return result, i + 1
		}
	}
	return result, len(data)
}

// ParseImports walks the section table and decodes the import section.
// Returns nil when the module has no imports. The caller is expected to
// have checked IsModule first; malformed section payloads terminate the
// walk early rather than panic.
func ParseImports(b []byte) []Import {
	if len(b) < 8 {
		return nil
	}

	pos := 8
	var start, end int
	for pos < len(b) {
		id := b[pos]
		pos++
		size, n := DecodeULEB128(b[pos:])
		pos += n
		sectionEnd := pos + int(size)
		if sectionEnd > len(b) {
			return nil
		}
		if id == sectionImport {
			start, end = pos, sectionEnd
		}
		pos = sectionEnd
	}
	if start == 0 {
		return nil
	}

	var imports []Import
	pos = start
	count, n := DecodeULEB128(b[pos:])
	pos += n
	for i := uint32(0); i < count && pos < end; i++ {
		modName, ok := readName(b, &pos, end)
		if !ok {
			return imports
		}
		impName, ok := readName(b, &pos, end)
		if !ok {
			return imports
		}
		if pos >= end {
			return imports
		}
		kind := ImportKind(b[pos])
		pos++

		if !skipImportDesc(b, &pos, end, kind) {
			return imports
		}

		imports = append(imports, Import{Module: modName, Name: impName, Kind: kind})
	}
	return imports
}

func readName(b []byte, pos *int, end int) (string, bool) {
	if *pos >= end {
		return "", false
	}
	length, n := DecodeULEB128(b[*pos:])
	*pos += n
	if *pos+int(length) > end {
		return "", false
	}
	s := string(b[*pos : *pos+int(length)])
	*pos += int(length)
	return s, true
}

// skipImportDesc advances pos past the import description for kind.
func skipImportDesc(b []byte, pos *int, end int, kind ImportKind) bool {
	switch kind {
	case ImportFunc:
		_, n := DecodeULEB128(b[*pos:])
		*pos += n
	case ImportTable:
		*pos++ // reftype
		return skipLimits(b, pos, end)
	case ImportMemory:
		return skipLimits(b, pos, end)
	case ImportGlobal:
		*pos += 2 // valtype + mutability
	default:
		return false
	}
	return *pos <= end
}

func skipLimits(b []byte, pos *int, end int) bool {
	if *pos >= end {
		return false
	}
	flags := b[*pos]
	*pos++
	_, n := DecodeULEB128(b[*pos:])
	*pos += n
	if flags&0x01 != 0 {
		_, n := DecodeULEB128(b[*pos:])
		*pos += n
	}
	return *pos <= end
}
