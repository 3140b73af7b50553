package machosign

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"fmt"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"

	"github.com/penguicky/ArkSigning/pkg/signerr"
	"github.com/penguicky/ArkSigning/pkg/signidentity"
)

// Apple's two code-signing CMS signed attribute OIDs.
var (
	oidCDHashesPlist = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 9, 1}
	oidCDHashes2     = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 9, 2}
	oidSHA256        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

// buildCMS produces a detached CMS (PKCS#7) SignedData over cdirSHA1,
// carrying the two Apple CDHashes signed attributes computed from both
// CodeDirectories, and wraps it as an 0xfade0b01 blob wrapper for the
// CMS signature slot.
func buildCMS(cdirSHA1, cdirSHA256 []byte, identity *signidentity.Identity) ([]byte, error) {
	signedData, err := pkcs7.NewSignedData(cdirSHA1)
	if err != nil {
		return nil, signerr.New(signerr.CryptoFailure, "machosign.buildCMS", fmt.Errorf("new signed data: %w", err))
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	rsaKey, ok := identity.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, signerr.New(signerr.InvalidIdentity, "machosign.buildCMS", fmt.Errorf("only RSA signing keys are supported"))
	}

	attrs, err := buildCDHashesAttributes(cdirSHA1, cdirSHA256)
	if err != nil {
		return nil, err
	}

	var parentCerts []*x509.Certificate
	if len(identity.Chain) > 1 {
		parentCerts = identity.Chain[1:]
	}

	cfg := pkcs7.SignerInfoConfig{ExtraSignedAttributes: attrs}
	if err := signedData.AddSignerChain(identity.Certificate, rsaKey, parentCerts, cfg); err != nil {
		return nil, signerr.New(signerr.CryptoFailure, "machosign.buildCMS", fmt.Errorf("add signer chain: %w", err))
	}

	signedData.Detach()
	der, err := signedData.Finish()
	if err != nil {
		return nil, signerr.New(signerr.CryptoFailure, "machosign.buildCMS", fmt.Errorf("finish CMS: %w", err))
	}

	total := 8 + len(der)
	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], csMagicBlobWrapper)
	binary.BigEndian.PutUint32(blob[4:], uint32(total))
	copy(blob[8:], der)
	return blob, nil
}

func buildCDHashesAttributes(cdirSHA1, cdirSHA256 []byte) ([]pkcs7.Attribute, error) {
	sha1CDHash := sha1.Sum(cdirSHA1)
	sha256CDHash := sha256.Sum256(cdirSHA256)

	plistBlob := buildCDHashesPlist(sha1CDHash[:], sha256CDHash[:20])
	seq, err := buildCDHashes2ASN1(sha256CDHash[:])
	if err != nil {
		return nil, signerr.New(signerr.CryptoFailure, "machosign.buildCDHashesAttributes", err)
	}

	return []pkcs7.Attribute{
		{Type: oidCDHashesPlist, Value: plistBlob},
		{Type: oidCDHashes2, Value: seq},
	}, nil
}

func buildCDHashesPlist(sha1Hash, truncatedSHA256 []byte) []byte {
	cdHashes := map[string]interface{}{
		"cdhashes": [][]byte{sha1Hash, truncatedSHA256},
	}
	data, err := plist.Marshal(cdHashes, plist.XMLFormat)
	if err != nil {
		return []byte{}
	}
	return data
}

func buildCDHashes2ASN1(sha256Hash []byte) (asn1.RawValue, error) {
	type hashSeq struct {
		Algorithm asn1.ObjectIdentifier
		Digest    []byte
	}
	der, err := asn1.Marshal(hashSeq{Algorithm: oidSHA256, Digest: sha256Hash})
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: der}, nil
}
