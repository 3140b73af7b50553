package plistval

import "howett.net/plist"

// Decode parses an XML or binary plist (auto-detected by
// howett.net/plist) into a Value tree.
func Decode(data []byte) (Value, error) {
	var raw interface{}
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}
	return FromInterface(raw)
}

// DecodeDict is Decode plus a type assertion for the common case of a
// top-level dictionary (Info.plist, entitlements, CodeResources).
func DecodeDict(data []byte) (Value, error) {
	v, err := Decode(data)
	if err != nil {
		return Value{}, err
	}
	if v.Kind != KindDict {
		return Value{}, errNotDict
	}
	return v, nil
}

var errNotDict = plistNotDictError{}

type plistNotDictError struct{}

func (plistNotDictError) Error() string { return "plistval: top-level plist value is not a dictionary" }
