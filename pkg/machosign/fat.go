package machosign

import (
	"bytes"
	"encoding/binary"

	macho "github.com/blacktop/go-macho"

	"github.com/penguicky/ArkSigning/pkg/signerr"
	"github.com/penguicky/ArkSigning/pkg/signidentity"
)

const fatMagic = 0xcafebabe
const fatAlignment = 0x4000

// IsFat reports whether data begins with the big-endian fat binary
// magic (0xcafebabe).
func IsFat(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data[0:4]) == fatMagic
}

// SignFat signs each architecture slice of a universal binary
// independently with SignThin, then rebuilds the fat header with
// 0x4000-aligned offsets, matching the layout lipo/Apple's codesign
// produce.
func SignFat(data []byte, identity *signidentity.Identity, ctx SignContext) ([]byte, error) {
	fat, err := macho.NewFatFile(bytes.NewReader(data))
	if err != nil {
		return nil, signerr.New(signerr.MachOMalformed, "machosign.SignFat", err)
	}
	defer fat.Close()

	signed := make([][]byte, len(fat.Arches))
	for i, arch := range fat.Arches {
		archData := data[arch.Offset : uint64(arch.Offset)+uint64(arch.Size)]
		out, err := SignThin(archData, identity, ctx)
		if err != nil {
			return nil, err
		}
		signed[i] = out
	}

	headerSize := 8 + len(fat.Arches)*20
	offsets := make([]uint32, len(fat.Arches))
	cur := uint32(headerSize)
	for i := range signed {
		if cur%fatAlignment != 0 {
			cur = ((cur / fatAlignment) + 1) * fatAlignment
		}
		offsets[i] = cur
		cur += uint32(len(signed[i]))
	}

	result := make([]byte, cur)
	binary.BigEndian.PutUint32(result[0:], fatMagic)
	binary.BigEndian.PutUint32(result[4:], uint32(len(fat.Arches)))
	for i, arch := range fat.Arches {
		base := 8 + i*20
		binary.BigEndian.PutUint32(result[base:], uint32(arch.CPU))
		binary.BigEndian.PutUint32(result[base+4:], uint32(arch.SubCPU))
		binary.BigEndian.PutUint32(result[base+8:], offsets[i])
		binary.BigEndian.PutUint32(result[base+12:], uint32(len(signed[i])))
		binary.BigEndian.PutUint32(result[base+16:], arch.Align)
	}
	for i, archData := range signed {
		copy(result[offsets[i]:], archData)
	}
	return result, nil
}

// Sign dispatches to SignFat or SignThin based on the leading magic.
func Sign(data []byte, identity *signidentity.Identity, ctx SignContext) ([]byte, error) {
	if IsFat(data) {
		return SignFat(data, identity, ctx)
	}
	return SignThin(data, identity, ctx)
}
