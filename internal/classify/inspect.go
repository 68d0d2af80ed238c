package classify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hopper/internal/services"
)

// sniffBytes is how much of a file Inspect reads for magic numbers.
const sniffBytes = 4096

// maxParseBytes bounds the YAML/JSON well-formedness probe.
const maxParseBytes = 1 << 20

type magic struct {
	offset    int
	signature []byte
	structure Structure
}

var magics = []magic{
	{0, []byte("PK\x03\x04"), StructureZip},
	{0, []byte("PK\x05\x06"), StructureZip},
	{0, []byte{0x1f, 0x8b}, StructureGzip},
	{0, []byte("7z\xbc\xaf\x27\x1c"), Structure7z},
	{0, []byte("Rar!\x1a\x07"), StructureRar},
	{257, []byte("ustar"), StructureTar},
	{0, []byte("MZ"), StructureExecutable},
	{0, []byte("\x7fELF"), StructureExecutable},
	{0, []byte{0xfe, 0xed, 0xfa, 0xce}, StructureExecutable},
	{0, []byte{0xfe, 0xed, 0xfa, 0xcf}, StructureExecutable},
	{0, []byte{0xcf, 0xfa, 0xed, 0xfe}, StructureExecutable},
	{0, []byte{0xce, 0xfa, 0xed, 0xfe}, StructureExecutable},
	{0, []byte("-----BEGIN "), StructurePEM},
	{0, []byte("#!"), StructureShebang},
}

// Inspect reads a file's leading bytes and produces the Signals that
// Classify consumes. Content is only sniffed when the extension is not in
// any table, so well-known files never pay for the read.
func Inspect(path, hostOS string) (Signals, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Signals{}, services.Wrap(services.ErrIO, "classify", "stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return Signals{}, services.Wrap(services.ErrUnsupportedFormat, "classify", "stat", fmt.Sprintf("%s is not a regular file", path), nil)
	}
	name := filepath.Base(path)
	signals := Signals{
		Name:   name,
		Ext:    ExtOf(name),
		Size:   info.Size(),
		HostOS: hostOS,
	}
	if knownExtension(signals.Ext) {
		return signals, nil
	}
	structure, err := sniff(path)
	if err != nil {
		return Signals{}, services.Wrap(services.ErrIO, "classify", "sniff", path, err)
	}
	signals.Structure = structure
	return signals, nil
}

func sniff(path string) (Structure, error) {
	file, err := os.Open(path)
	if err != nil {
		return StructureNone, err
	}
	defer file.Close()

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return StructureNone, err
	}
	head = head[:n]
	if s := DetectStructure(head); s != StructureNone {
		return s, nil
	}
	if !looksLikeText(head) {
		return StructureNone, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return StructureNone, err
	}
	body, err := io.ReadAll(io.LimitReader(file, maxParseBytes+1))
	if err != nil {
		return StructureNone, err
	}
	if len(body) > maxParseBytes {
		return StructureNone, nil
	}
	if WellFormedData(body) {
		return StructureData, nil
	}
	return StructureNone, nil
}

// DetectStructure matches head against known magic numbers.
func DetectStructure(head []byte) Structure {
	for _, m := range magics {
		end := m.offset + len(m.signature)
		if len(head) >= end && bytes.Equal(head[m.offset:end], m.signature) {
			return m.structure
		}
	}
	return StructureNone
}

// WellFormedData reports whether data parses as a YAML (or JSON) mapping or
// sequence. Plain prose parses as a scalar and does not count.
func WellFormedData(data []byte) bool {
	if len(bytes.TrimSpace(data)) == 0 {
		return false
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return false
	}
	switch doc.Content[0].Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		return true
	default:
		return false
	}
}

// TopLevelKeys returns the keys of a YAML/JSON mapping document, in order.
func TopLevelKeys(data []byte) []string {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil
	}
	mapping := doc.Content[0]
	keys := make([]string, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keys = append(keys, mapping.Content[i].Value)
	}
	return keys
}

func looksLikeText(head []byte) bool {
	return !bytes.Contains(head, []byte{0})
}
