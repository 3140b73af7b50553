// Package machosign rewrites a Mach-O image (thin or fat) with a fresh
// embedded code signature: SuperBlob, dual CodeDirectories (SHA-1 and
// SHA-256), Requirements, Entitlements (XML and DER), and a detached
// CMS signature. Parsing reuses github.com/blacktop/go-macho for load
// command and segment enumeration; blob construction and in-place
// byte patching are hand-rolled so the layout and dylib-injection gap
// insertion match Apple's own cs_blobs.h exactly.
package machosign

import "crypto/sha256"

// Code signature magic numbers, from Apple's cs_blobs.h.
const (
	csMagicRequirement             = 0xfade0c00
	csMagicRequirements             = 0xfade0c01
	csMagicCodeDirectory            = 0xfade0c02
	csMagicEmbeddedSignature        = 0xfade0cc0
	csMagicEmbeddedEntitlements     = 0xfade7171
	csMagicEmbeddedEntitlementsDER  = 0xfade7172
	csMagicBlobWrapper              = 0xfade0b01
)

// Special slot indices within a CodeDirectory.
const (
	cssCodeDirectory             = 0
	cssInfoSlot                  = 1
	cssRequirements               = 2
	cssResourceDir                = 3
	cssApplication                = 4
	cssEntitlements               = 5
	cssEntitlementsDER            = 7
	cssAlternateCodeDirectories  = 0x1000
	cssCMSSignature               = 0x10000
)

const (
	csHashTypeSHA1   = 1
	csHashTypeSHA256 = 2
)

const (
	csExecSegMainBinary    = 0x1
	csExecSegAllowUnsigned = 0x10
)

const (
	lcCodeSignature     = 0x1d
	lcCodeSignatureSize = 16
)

const (
	pageSizeBits = 12
	pageSize     = 1 << pageSizeBits
)

const cdHeaderSize = 88 // v0x20400 CodeDirectory fixed header

func hashSizeFor(hashType uint8) int {
	if hashType == csHashTypeSHA1 {
		return 20
	}
	return sha256.Size
}
