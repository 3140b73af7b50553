package machosign

import (
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"sort"
)

// buildEntitlementsBlob wraps an entitlements XML plist verbatim as
// an 0xfade7171 blob for special slot 5.
func buildEntitlementsBlob(entitlements []byte) []byte {
	total := 8 + len(entitlements)
	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], csMagicEmbeddedEntitlements)
	binary.BigEndian.PutUint32(blob[4:], uint32(total))
	copy(blob[8:], entitlements)
	return blob
}

// buildEntitlementsDERBlob re-encodes a parsed entitlements dict to
// Apple's DER plist format and wraps it as an 0xfade7172 blob for
// special slot 7. Returns an error if a value has a type
// EntitlementsToDER cannot encode.
func buildEntitlementsDERBlob(entitlements map[string]interface{}) ([]byte, error) {
	der, err := EntitlementsToDER(entitlements)
	if err != nil {
		return nil, err
	}
	total := 8 + len(der)
	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], csMagicEmbeddedEntitlementsDER)
	binary.BigEndian.PutUint32(blob[4:], uint32(total))
	copy(blob[8:], der)
	return blob, nil
}

// EntitlementsToDER implements Apple's plist-to-DER encoding used for
// the entitlements DER blob (special slot 7, required since iOS 15):
//
//	top level:  APPLICATION 16 { INTEGER 1, dict }
//	dictionary: [16] { SEQUENCE { UTF8String key, value }... }   (keys sorted)
//	array:      SEQUENCE { value... }
//	string:     UTF8String
//	bool/int:   ASN.1 BOOLEAN/INTEGER
func EntitlementsToDER(entitlements map[string]interface{}) ([]byte, error) {
	dictContent, err := encodeDERDict(entitlements)
	if err != nil {
		return nil, err
	}
	versionBytes, err := asn1.Marshal(1)
	if err != nil {
		return nil, fmt.Errorf("marshal entitlements DER version: %w", err)
	}
	content := append(versionBytes, dictContent...)
	return wrapWithTag(0x70, content), nil // APPLICATION 16, constructed
}

func encodeDERDict(dict map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []byte
	for _, key := range keys {
		valueBytes, err := encodeDERValue(dict[key])
		if err != nil {
			return nil, fmt.Errorf("entitlement %q: %w", key, err)
		}
		pair := append(encodeUTF8String(key), valueBytes...)
		pairs = append(pairs, wrapWithTag(0x30, pair)...) // SEQUENCE
	}
	return wrapWithTag(0xB0, pairs), nil // context [16], constructed
}

func encodeUTF8String(s string) []byte {
	return wrapWithTag(0x0C, []byte(s))
}

func encodeDERValue(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case bool:
		return asn1.Marshal(val)
	case string:
		return encodeUTF8String(val), nil
	case int:
		return asn1.Marshal(val)
	case int64:
		return asn1.Marshal(val)
	case uint64:
		return asn1.Marshal(int64(val))
	case []interface{}:
		var content []byte
		for _, item := range val {
			itemBytes, err := encodeDERValue(item)
			if err != nil {
				return nil, err
			}
			content = append(content, itemBytes...)
		}
		return wrapWithTag(0x30, content), nil
	case map[string]interface{}:
		return encodeDERDict(val)
	default:
		return nil, fmt.Errorf("unsupported entitlement value type %T", v)
	}
}

func wrapWithTag(tag byte, content []byte) []byte {
	length := len(content)
	switch {
	case length < 128:
		out := make([]byte, 2+length)
		out[0], out[1] = tag, byte(length)
		copy(out[2:], content)
		return out
	case length < 256:
		out := make([]byte, 3+length)
		out[0], out[1], out[2] = tag, 0x81, byte(length)
		copy(out[3:], content)
		return out
	case length < 65536:
		out := make([]byte, 4+length)
		out[0], out[1] = tag, 0x82
		binary.BigEndian.PutUint16(out[2:], uint16(length))
		copy(out[4:], content)
		return out
	default:
		out := make([]byte, 5+length)
		out[0], out[1] = tag, 0x83
		out[2], out[3], out[4] = byte(length>>16), byte(length>>8), byte(length)
		copy(out[5:], content)
		return out
	}
}
