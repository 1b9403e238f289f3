package domain

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/Masterminds/semver/v3"
)

const (
	// indexCacheVersion is the layout version of cargo's index cache files.
	indexCacheVersion = 3
	// indexSchemaMax is the newest index line schema ("v" field) cargo understands.
	indexSchemaMax = 2
)

// indexLine is the part of a registry index line the cache needs.
type indexLine struct {
	Vers string `json:"vers"`
}

// EncodeIndexCache renders the cargo index cache of one crate from its raw index file.
// The layout is: u8 version | u32le schema | revision | 0 | (version | 0 | line | 0)*.
// Lines that are empty, not JSON, or carry a non-semver version are left out, as cargo does.
func EncodeIndexCache(revision string, indexFile []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(indexCacheVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(indexSchemaMax))
	buf.WriteString(revision)
	buf.WriteByte(0)

	for line := range bytes.SplitSeq(indexFile, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var parsed indexLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			continue
		}
		if _, err := semver.NewVersion(parsed.Vers); err != nil {
			continue
		}
		buf.WriteString(parsed.Vers)
		buf.WriteByte(0)
		buf.Write(line)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
