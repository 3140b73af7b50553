package hashutil

import (
	"os"
	"testing"
)

func TestSHA1AndSHA256(t *testing.T) {
	data := []byte("arksigning")
	if len(SHA1(data)) != 20 {
		t.Fatalf("SHA1 length = %d, want 20", len(SHA1(data)))
	}
	if len(SHA256(data)) != 32 {
		t.Fatalf("SHA256 length = %d, want 32", len(SHA256(data)))
	}
}

func TestBase64RoundTrip(t *testing.T) {
	data := []byte("hello code signing")
	enc := Base64Encode(data)
	dec, err := Base64Decode(enc)
	if err != nil {
		t.Fatalf("Base64Decode failed: %v", err)
	}
	if string(dec) != string(data) {
		t.Fatalf("round trip mismatch: got %q want %q", dec, data)
	}
}

func TestBase64DecodeUnpadded(t *testing.T) {
	// "Zm9vYg==" is "foob" base64-encoded; with its trailing padding
	// stripped it still decodes.
	dec, err := Base64Decode("Zm9vYg")
	if err != nil {
		t.Fatalf("Base64Decode failed: %v", err)
	}
	if string(dec) != "foob" {
		t.Fatalf("got %q, want foob", dec)
	}
}

func TestFileDigests(t *testing.T) {
	f, err := os.CreateTemp("", "hashutil-*")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString("payload"); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	f.Close()

	sha1b64, sha256b64, err := FileDigests(f.Name())
	if err != nil {
		t.Fatalf("FileDigests failed: %v", err)
	}
	if sha1b64 == "" || sha256b64 == "" {
		t.Fatal("expected non-empty digests")
	}

	rawSHA1, rawSHA256, err := FileDigestsRaw(f.Name())
	if err != nil {
		t.Fatalf("FileDigestsRaw failed: %v", err)
	}
	if Base64Encode(rawSHA1) != sha1b64 {
		t.Errorf("FileDigestsRaw sha1 disagrees with FileDigests")
	}
	if Base64Encode(rawSHA256) != sha256b64 {
		t.Errorf("FileDigestsRaw sha256 disagrees with FileDigests")
	}
}

func TestDataDigests(t *testing.T) {
	sha1b64, sha256b64 := DataDigests([]byte("payload"))
	if sha1b64 == "" || sha256b64 == "" {
		t.Fatal("expected non-empty digests")
	}
}
