package machosign

import (
	"bytes"
	"encoding/binary"
	"fmt"

	macho "github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	"github.com/penguicky/ArkSigning/pkg/signerr"
)

const (
	lcLoadDylib     = 0xc
	lcLoadWeakDylib = 0x80000018
)

// InjectResult reports what InjectDylib actually did, so callers can
// tell a no-op ("already present") from a real injection.
type InjectResult struct {
	AlreadyPresent bool
	WasWeak        bool
}

// InjectDylib writes a new LC_LOAD_DYLIB (or, if weak is true,
// LC_LOAD_WEAK_DYLIB) load command for dylibPath into the gap between
// the end of the existing load commands and the first byte of
// __TEXT's first section — the only place a new load command can go
// without moving any existing file content. Returns an error if that
// gap is too small, or a no-op InjectResult if dylibPath already
// appears among the existing LC_LOAD_DYLIB/LC_LOAD_WEAK_DYLIB entries.
func InjectDylib(data []byte, dylibPath string, weak bool) ([]byte, InjectResult, error) {
	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, InjectResult{}, signerr.New(signerr.MachOMalformed, "machosign.InjectDylib", err)
	}
	defer m.Close()

	is64 := m.Magic == types.Magic64
	headerSize := uint32(28)
	if is64 {
		headerSize = 32
	}

	for _, load := range m.Loads {
		if dl, ok := load.(*macho.Dylib); ok {
			if dl.Name == dylibPath {
				return data, InjectResult{AlreadyPresent: true, WasWeak: dl.LoadCmd == types.LoadCmd(lcLoadWeakDylib)}, nil
			}
		}
	}

	var ncmds, sizeofcmds uint32
	if is64 {
		ncmds = binary.LittleEndian.Uint32(data[16:20])
		sizeofcmds = binary.LittleEndian.Uint32(data[20:24])
	} else {
		ncmds = binary.LittleEndian.Uint32(data[12:16])
		sizeofcmds = binary.LittleEndian.Uint32(data[16:20])
	}
	loadCmdsEnd := headerSize + sizeofcmds

	var firstSectionOffset uint32 = ^uint32(0)
	for _, sec := range m.GetSectionsForSegment("__TEXT") {
		if sec.Offset != 0 && sec.Offset < firstSectionOffset {
			firstSectionOffset = sec.Offset
		}
	}
	if firstSectionOffset == ^uint32(0) {
		return nil, InjectResult{}, signerr.New(signerr.MachOMalformed, "machosign.InjectDylib", fmt.Errorf("could not locate __TEXT's first section"))
	}

	cmd := buildDylibCmd(dylibPath, weak)
	if loadCmdsEnd+uint32(len(cmd)) > firstSectionOffset {
		return nil, InjectResult{}, signerr.New(signerr.MachOMalformed, "machosign.InjectDylib",
			fmt.Errorf("no room before __TEXT's first section to insert LC_LOAD_DYLIB (need %d bytes, have %d)",
				len(cmd), firstSectionOffset-loadCmdsEnd))
	}

	out := make([]byte, len(data))
	copy(out, data)

	if is64 {
		binary.LittleEndian.PutUint32(out[16:20], ncmds+1)
		binary.LittleEndian.PutUint32(out[20:24], sizeofcmds+uint32(len(cmd)))
	} else {
		binary.LittleEndian.PutUint32(out[12:16], ncmds+1)
		binary.LittleEndian.PutUint32(out[16:20], sizeofcmds+uint32(len(cmd)))
	}
	copy(out[loadCmdsEnd:], cmd)

	return out, InjectResult{}, nil
}

// buildDylibCmd builds an LC_LOAD_DYLIB/LC_LOAD_WEAK_DYLIB command:
// cmd(4) cmdsize(4) dylib.name.offset(4)=24 timestamp(4)=0
// current_version(4)=0x10000 compatibility_version(4)=0x10000
// then the NUL-terminated path, padded to a multiple of 8 bytes.
func buildDylibCmd(path string, weak bool) []byte {
	pathBytes := append([]byte(path), 0)
	unpadded := 24 + len(pathBytes)
	padded := (unpadded + 7) &^ 7

	cmd := make([]byte, padded)
	cmdConst := uint32(lcLoadDylib)
	if weak {
		cmdConst = lcLoadWeakDylib
	}
	binary.LittleEndian.PutUint32(cmd[0:], cmdConst)
	binary.LittleEndian.PutUint32(cmd[4:], uint32(padded))
	binary.LittleEndian.PutUint32(cmd[8:], 24) // name offset
	binary.LittleEndian.PutUint32(cmd[12:], 0) // timestamp
	binary.LittleEndian.PutUint32(cmd[16:], 0x10000)
	binary.LittleEndian.PutUint32(cmd[20:], 0x10000)
	copy(cmd[24:], pathBytes)
	return cmd
}
