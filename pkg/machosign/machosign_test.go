package machosign

import (
	"encoding/binary"
	"testing"
)

func TestIsEmptyEntitlementsXML(t *testing.T) {
	cases := []struct {
		xml  string
		want bool
	}{
		{"<dict/>", true},
		{"<dict></dict>", true},
		{"<dict><key>foo</key><string>bar</string></dict>", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isEmptyEntitlementsXML(c.xml); got != c.want {
			t.Errorf("isEmptyEntitlementsXML(%q) = %v, want %v", c.xml, got, c.want)
		}
	}
}

func TestBuildCodeDirectoryHeader(t *testing.T) {
	codeData := make([]byte, pageSize*2+100)
	for i := range codeData {
		codeData[i] = byte(i)
	}
	slots := specialSlots{
		InfoPlist:    []byte("<plist/>"),
		Requirements: []byte("reqs"),
	}
	cdir := buildCodeDirectory(codeData, "com.example.app", "TEAMID1234", 2, int64(len(codeData)), 0, uint64(len(codeData)), slots, hashSizeFor(csHashTypeSHA256), csHashTypeSHA256, 0)

	if binary.BigEndian.Uint32(cdir[0:4]) != csMagicCodeDirectory {
		t.Fatalf("wrong magic: %x", cdir[0:4])
	}
	length := binary.BigEndian.Uint32(cdir[4:8])
	if int(length) != len(cdir) {
		t.Fatalf("length field = %d, want %d", length, len(cdir))
	}
	version := binary.BigEndian.Uint32(cdir[8:12])
	if version != 0x20400 {
		t.Fatalf("version = %x, want 0x20400", version)
	}
	hashSize := cdir[36]
	if hashSize != 32 {
		t.Fatalf("hashSize = %d, want 32", hashSize)
	}
	hashType := cdir[37]
	if hashType != csHashTypeSHA256 {
		t.Fatalf("hashType = %d, want %d", hashType, csHashTypeSHA256)
	}
	nSpecialSlots := binary.BigEndian.Uint32(cdir[24:28])
	if nSpecialSlots != 2 {
		t.Fatalf("nSpecialSlots = %d, want 2", nSpecialSlots)
	}
	nCodeSlots := binary.BigEndian.Uint32(cdir[28:32])
	wantSlots := (len(codeData) + pageSize - 1) / pageSize
	if int(nCodeSlots) != wantSlots {
		t.Fatalf("nCodeSlots = %d, want %d", nCodeSlots, wantSlots)
	}
}

func TestBuildDesignatedRequirement(t *testing.T) {
	req := buildDesignatedRequirement("com.example.app", "Test Signer")
	if len(req) < 16 {
		t.Fatalf("requirement expression too short: %d bytes", len(req))
	}
	// The expression follows the 12-byte Requirement blob header
	// (magic, length, kind).
	op := binary.BigEndian.Uint32(req[12:16])
	if op != opAnd {
		t.Fatalf("leading opcode = %x, want opAnd (%x)", op, opAnd)
	}
}

func TestBuildRequirementsBlob(t *testing.T) {
	blob := buildRequirementsBlob("com.example.app", "Test Signer")
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != csMagicRequirements {
		t.Fatalf("magic = %x, want %x", magic, csMagicRequirements)
	}
	length := binary.BigEndian.Uint32(blob[4:8])
	if int(length) != len(blob) {
		t.Fatalf("length = %d, want %d", length, len(blob))
	}
	count := binary.BigEndian.Uint32(blob[8:12])
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestEntitlementsToDER(t *testing.T) {
	ent := map[string]interface{}{
		"application-identifier": "ABCDE12345.com.example.app",
		"get-task-allow":         true,
	}
	der, err := EntitlementsToDER(ent)
	if err != nil {
		t.Fatalf("EntitlementsToDER failed: %v", err)
	}
	if len(der) < 4 || der[0] != 0x70 {
		t.Fatalf("expected APPLICATION 16 tag 0x70, got %x", der[:4])
	}
}

func TestBuildEntitlementsBlob(t *testing.T) {
	blob := buildEntitlementsBlob([]byte("<dict/>"))
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != csMagicEmbeddedEntitlements {
		t.Fatalf("magic = %x, want %x", magic, csMagicEmbeddedEntitlements)
	}
}
