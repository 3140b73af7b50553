package plistval

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteXMLRoundTrip(t *testing.T) {
	dict := Dict(map[string]Value{
		"CFBundleIdentifier": String("com.example.app"),
		"CFBundleVersion":    String("1.0"),
		"get-task-allow":     Bool(true),
	})

	out, err := WriteXML(dict)
	if err != nil {
		t.Fatalf("WriteXML failed: %v", err)
	}

	decoded, err := DecodeDict(out)
	if err != nil {
		t.Fatalf("DecodeDict failed: %v", err)
	}

	id, ok := decoded.DictGet("CFBundleIdentifier")
	if !ok || id.Kind != KindString || id.Str != "com.example.app" {
		t.Fatalf("CFBundleIdentifier round trip mismatch: %+v", id)
	}
	allow, ok := decoded.DictGet("get-task-allow")
	if !ok || allow.Kind != KindBool || allow.Bool != true {
		t.Fatalf("get-task-allow round trip mismatch: %+v", allow)
	}
}

func TestWriteXMLEscapesSpecialChars(t *testing.T) {
	v := Dict(map[string]Value{"name": String("A & B <test>")})
	out, err := WriteXML(v)
	if err != nil {
		t.Fatalf("WriteXML failed: %v", err)
	}
	if bytes.Contains(out, []byte("<test>")) {
		t.Error("expected '<' in value to be escaped")
	}
	if !bytes.Contains(out, []byte("&amp;")) {
		t.Error("expected '&' to be escaped as &amp;")
	}
}

func TestWriteXMLInlineArray(t *testing.T) {
	items := make([]Value, 5)
	for i := range items {
		items[i] = String("x")
	}
	v := Dict(map[string]Value{"list": Array(items...)})
	out, err := WriteXML(v)
	if err != nil {
		t.Fatalf("WriteXML failed: %v", err)
	}
	if !strings.Contains(string(out), "<array>") {
		t.Error("expected array tag in output")
	}
}

func TestDecodeDictRejectsNonDict(t *testing.T) {
	v := Array(String("a"), String("b"))
	out, err := WriteXML(v)
	if err != nil {
		t.Fatalf("WriteXML failed: %v", err)
	}
	if _, err := DecodeDict(out); err == nil {
		t.Fatal("expected DecodeDict to reject a top-level array")
	}
}

func TestFromInterfaceDict(t *testing.T) {
	m := map[string]interface{}{
		"key":   "value",
		"count": int64(3),
		"flag":  true,
	}
	v, err := FromInterface(m)
	if err != nil {
		t.Fatalf("FromInterface failed: %v", err)
	}
	if v.Kind != KindDict {
		t.Fatalf("expected KindDict, got %v", v.Kind)
	}
	flag, ok := v.DictGet("flag")
	if !ok || flag.Bool != true {
		t.Fatalf("expected flag=true, got %+v", flag)
	}
}
