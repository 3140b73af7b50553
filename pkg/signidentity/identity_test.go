package signidentity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func generateTestCertAndKey(t *testing.T, commonName string, orgUnit string) (*x509.Certificate, *rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:         commonName,
			OrganizationalUnit: []string{orgUnit},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		t.Fatalf("ParseCertificate failed: %v", err)
	}
	return cert, key, derBytes
}

func pemBundle(certDER []byte, key *rsa.PrivateKey) []byte {
	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})...)
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})...)
	return out
}

func TestLoadPEM(t *testing.T) {
	_, key, certDER := generateTestCertAndKey(t, "Test Signer", "ABCDE12345")
	bundle := pemBundle(certDER, key)

	id, err := Load(bundle, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id.Certificate == nil {
		t.Fatal("expected a certificate to be loaded")
	}
	if id.TeamID != "ABCDE12345" {
		t.Errorf("TeamID = %q, want ABCDE12345", id.TeamID)
	}
	if id.SubjectCN != "Test Signer" {
		t.Errorf("SubjectCN = %q, want Test Signer", id.SubjectCN)
	}
	if len(id.Chain) < 1 {
		t.Error("expected a non-empty certificate chain")
	}
}

func TestLoadPEMKeyOnlyThenCompleteFromProfile(t *testing.T) {
	cert, key, certDER := generateTestCertAndKey(t, "Key Only Signer", "ZZZZZ99999")
	keyOnlyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	id, err := Load(keyOnlyPEM, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id.Certificate != nil {
		t.Fatal("expected no certificate when only a key was supplied")
	}

	profile := &Profile{DeveloperCertificates: [][]byte{certDER}}
	if err := CompleteFromProfile(id, profile); err != nil {
		t.Fatalf("CompleteFromProfile failed: %v", err)
	}
	if id.Certificate == nil || id.Certificate.SerialNumber.Cmp(cert.SerialNumber) != 0 {
		t.Fatal("CompleteFromProfile did not attach the matching certificate")
	}
}

func TestCompleteFromProfileNoMatch(t *testing.T) {
	_, key, _ := generateTestCertAndKey(t, "Signer A", "AAAAA11111")
	_, _, otherCertDER := generateTestCertAndKey(t, "Signer B", "BBBBB22222")
	keyOnlyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	id, err := Load(keyOnlyPEM, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	profile := &Profile{DeveloperCertificates: [][]byte{otherCertDER}}
	if err := CompleteFromProfile(id, profile); err == nil {
		t.Fatal("expected an error when no certificate in the profile matches the key")
	}
}

func TestProfileDeviceAllowed(t *testing.T) {
	p := &Profile{ProvisionedDevices: []string{"udid-1", "udid-2"}}
	if !p.DeviceAllowed("udid-1") {
		t.Error("expected udid-1 to be allowed")
	}
	if p.DeviceAllowed("udid-3") {
		t.Error("expected udid-3 to be disallowed")
	}

	p2 := &Profile{ProvisionsAllDevices: true}
	if !p2.DeviceAllowed("anything") {
		t.Error("expected ProvisionsAllDevices to allow any udid")
	}
}

func TestProfileExpired(t *testing.T) {
	p := &Profile{ExpirationDate: time.Now().Add(-time.Hour)}
	if !p.Expired() {
		t.Error("expected profile to be expired")
	}
	p2 := &Profile{ExpirationDate: time.Now().Add(time.Hour)}
	if p2.Expired() {
		t.Error("expected profile to not be expired")
	}
}

func TestProfileTeamID(t *testing.T) {
	p := &Profile{TeamIdentifier: []string{"TEAM123456"}}
	if p.TeamID() != "TEAM123456" {
		t.Errorf("TeamID() = %q, want TEAM123456", p.TeamID())
	}
	p2 := &Profile{ApplicationIdentifierPrefix: []string{"PREFIX1234"}}
	if p2.TeamID() != "PREFIX1234" {
		t.Errorf("TeamID() fallback = %q, want PREFIX1234", p2.TeamID())
	}
}
