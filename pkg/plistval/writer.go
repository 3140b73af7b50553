package plistval

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	indentUnit     = "\t"
	inlineArrayMax = 25
	wrapColumn     = 75
)

// WriteXML renders v as a styled XML property list, matching Apple's
// own plutil output closely enough for byte-stable round trips:
// dictionaries sort their keys, every array element is written on its
// own line whatever the array's length (small arrays of scalars are not
// rendered inline), and long data runs wrap at 75 columns (strings do
// not wrap).
func WriteXML(root Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	buf.WriteString(`<plist version="1.0">` + "\n")
	if err := writeValue(&buf, root, 0); err != nil {
		return nil, err
	}
	buf.WriteString("\n</plist>\n")
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value, depth int) error {
	ind := strings.Repeat(indentUnit, depth)
	switch v.Kind {
	case KindString:
		buf.WriteString(ind + "<string>" + escapeXML(v.Str) + "</string>")
	case KindInt:
		fmt.Fprintf(buf, "%s<integer>%d</integer>", ind, v.Int)
	case KindReal:
		fmt.Fprintf(buf, "%s<real>%v</real>", ind, v.Real)
	case KindBool:
		if v.Bool {
			buf.WriteString(ind + "<true/>")
		} else {
			buf.WriteString(ind + "<false/>")
		}
	case KindDate:
		buf.WriteString(ind + "<date>" + escapeXML(v.Date) + "</date>")
	case KindData:
		writeData(buf, v.Data, depth)
	case KindArray:
		writeArray(buf, v, depth)
	case KindDict:
		writeDict(buf, v, depth)
	default:
		return fmt.Errorf("plistval: cannot write value of kind %d", v.Kind)
	}
	return nil
}

func writeData(buf *bytes.Buffer, data []byte, depth int) {
	ind := strings.Repeat(indentUnit, depth)
	encoded := base64.StdEncoding.EncodeToString(data)
	buf.WriteString(ind + "<data>\n")
	inner := strings.Repeat(indentUnit, depth+1)
	for len(encoded) > 0 {
		n := wrapColumn - len(inner)
		if n > len(encoded) {
			n = len(encoded)
		}
		buf.WriteString(inner + encoded[:n] + "\n")
		encoded = encoded[n:]
	}
	buf.WriteString(ind + "</data>")
}

func writeArray(buf *bytes.Buffer, v Value, depth int) {
	ind := strings.Repeat(indentUnit, depth)
	if len(v.Array) == 0 {
		buf.WriteString(ind + "<array/>")
		return
	}
	buf.WriteString(ind + "<array>\n")
	allScalar := len(v.Array) <= inlineArrayMax
	for _, e := range v.Array {
		if e.Kind == KindArray || e.Kind == KindDict {
			allScalar = false
			break
		}
	}
	for i, e := range v.Array {
		writeValue(buf, e, depth+1)
		if i < len(v.Array)-1 || !allScalar {
			buf.WriteString("\n")
		}
	}
	if allScalar {
		buf.WriteString("\n")
	}
	buf.WriteString(ind + "</array>")
}

func writeDict(buf *bytes.Buffer, v Value, depth int) {
	ind := strings.Repeat(indentUnit, depth)
	keys := v.SortedKeys()
	if len(keys) == 0 {
		buf.WriteString(ind + "<dict/>")
		return
	}
	buf.WriteString(ind + "<dict>\n")
	for _, k := range keys {
		buf.WriteString(strings.Repeat(indentUnit, depth+1) + "<key>" + escapeXML(k) + "</key>\n")
		writeValue(buf, v.Dict[k], depth+1)
		buf.WriteString("\n")
	}
	buf.WriteString(ind + "</dict>")
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
