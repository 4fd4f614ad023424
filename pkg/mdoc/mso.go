// Package mdoc provides Mobile Security Object (MSO) generation per ISO/IEC 18013-5:2021.
package mdoc

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"hash"
	"maps"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"mdoc/pkg/mdocerr"
)

// DigestAlgorithm represents the hash algorithm used for digests.
type DigestAlgorithm string

const (
	// DigestAlgorithmSHA256 uses SHA-256 for digest computation.
	DigestAlgorithmSHA256 DigestAlgorithm = "SHA-256"
	// DigestAlgorithmSHA384 uses SHA-384 for digest computation.
	DigestAlgorithmSHA384 DigestAlgorithm = "SHA-384"
	// DigestAlgorithmSHA512 uses SHA-512 for digest computation.
	DigestAlgorithmSHA512 DigestAlgorithm = "SHA-512"
)

// newHash returns a fresh hash.Hash for the algorithm, or an error if d names
// something outside the three the MSO's digestAlgorithm field may carry.
func (d DigestAlgorithm) newHash() (hash.Hash, error) {
	switch d {
	case DigestAlgorithmSHA256:
		return sha256.New(), nil
	case DigestAlgorithmSHA384:
		return sha512.New384(), nil
	case DigestAlgorithmSHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", d)
	}
}

// DefaultClockSkew is the leeway applied on either side of an MSO's validity
// window to absorb clock drift between issuer, device, and verifier.
const DefaultClockSkew = 60 * time.Second

// IssuerNameSpaces maps namespace to a list of tag-24-wrapped IssuerSignedItem bytes.
type IssuerNameSpaces = map[string][]IssuerSignedItemBytes

// ValueDigests maps digest ID to the actual digest bytes.
type ValueDigests map[uint][]byte

// DigestIDMapping maps namespace to ValueDigests.
type DigestIDMapping map[string]ValueDigests

// MSOBuilder builds a Mobile Security Object.
type MSOBuilder struct {
	docType         string
	digestAlgorithm DigestAlgorithm
	validFrom       time.Time
	validUntil      time.Time
	deviceKey       *COSEKey
	signerKey       crypto.Signer
	signerCert      *x509.Certificate
	certChain       []*x509.Certificate
	namespaces      map[string][]IssuerSignedItem
	digestIDCounter map[string]uint
}

// NewMSOBuilder creates a new MSO builder.
func NewMSOBuilder(docType string) *MSOBuilder {
	builder := &MSOBuilder{
		docType:         docType,
		digestAlgorithm: DigestAlgorithmSHA256,
		namespaces:      make(map[string][]IssuerSignedItem),
		digestIDCounter: make(map[string]uint),
	}
	return builder
}

// WithDigestAlgorithm sets the digest algorithm.
func (b *MSOBuilder) WithDigestAlgorithm(alg DigestAlgorithm) *MSOBuilder {
	b.digestAlgorithm = alg
	return b
}

// WithValidity sets the validity period.
func (b *MSOBuilder) WithValidity(from, until time.Time) *MSOBuilder {
	b.validFrom = from
	b.validUntil = until
	return b
}

// WithDeviceKey sets the device key (holder's key).
func (b *MSOBuilder) WithDeviceKey(key *COSEKey) *MSOBuilder {
	b.deviceKey = key
	return b
}

// WithSigner sets the document signer key and certificate chain.
func (b *MSOBuilder) WithSigner(key crypto.Signer, certChain []*x509.Certificate) *MSOBuilder {
	b.signerKey = key
	if len(certChain) > 0 {
		b.signerCert = certChain[0]
	}
	b.certChain = certChain
	return b
}

// AddDataElement adds a data element to the MSO.
func (b *MSOBuilder) AddDataElement(namespace, elementID string, value any) error {
	// Generate random salt (at least 16 bytes per spec)
	randomSalt := make([]byte, 32)
	if _, err := rand.Read(randomSalt); err != nil {
		return fmt.Errorf("failed to generate random salt: %w", err)
	}

	// Get next digest ID for this namespace
	digestID := b.digestIDCounter[namespace]
	b.digestIDCounter[namespace]++

	item := IssuerSignedItem{
		DigestID:          digestID,
		Random:            randomSalt,
		ElementIdentifier: elementID,
		ElementValue:      value,
	}

	b.namespaces[namespace] = append(b.namespaces[namespace], item)
	return nil
}

// AddDataElementWithRandom adds a data element with a specific random value (for testing).
func (b *MSOBuilder) AddDataElementWithRandom(namespace, elementID string, value any, random []byte) error {
	digestID := b.digestIDCounter[namespace]
	b.digestIDCounter[namespace]++

	item := IssuerSignedItem{
		DigestID:          digestID,
		Random:            random,
		ElementIdentifier: elementID,
		ElementValue:      value,
	}

	b.namespaces[namespace] = append(b.namespaces[namespace], item)
	return nil
}

// Build creates the signed MSO and IssuerNameSpaces.
func (b *MSOBuilder) Build() (*COSESign1, IssuerNameSpaces, error) {
	if b.signerKey == nil {
		return nil, nil, fmt.Errorf("signer key is required")
	}
	if b.deviceKey == nil {
		return nil, nil, fmt.Errorf("device key is required")
	}
	if b.validFrom.IsZero() || b.validUntil.IsZero() {
		return nil, nil, fmt.Errorf("validity period is required")
	}

	encoder, err := NewCBOREncoder()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	// Build IssuerNameSpaces and compute digests. The digest for each item
	// is taken over its tag-24-wrapped encoding, not the plain item encoding:
	// that wrapper is what actually travels in IssuerSigned.NameSpaces, and
	// it's what a verifier re-hashes on the other end.
	issuerNameSpaces := make(IssuerNameSpaces)
	digestIDMapping := make(DigestIDMapping)

	for namespace, items := range b.namespaces {
		wrappedItems := make([]IssuerSignedItemBytes, 0, len(items))
		valueDigests := make(ValueDigests)

		for _, item := range items {
			wrapped, err := NewIssuerSignedItemBytes(item)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode item %s: %w", item.ElementIdentifier, err)
			}

			digest, err := wrapped.Digest(b.digestAlgorithm)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to compute digest for %s: %w", item.ElementIdentifier, err)
			}

			wrappedItems = append(wrappedItems, wrapped)
			valueDigests[item.DigestID] = digest
		}

		issuerNameSpaces[namespace] = wrappedItems
		digestIDMapping[namespace] = valueDigests
	}

	// Get device key bytes
	deviceKeyBytes, err := b.deviceKey.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode device key: %w", err)
	}

	// Build the MSO structure
	mso := MobileSecurityObject{
		Version:         "1.0",
		DigestAlgorithm: string(b.digestAlgorithm),
		ValueDigests:    b.convertDigestMapping(digestIDMapping),
		DeviceKeyInfo: DeviceKeyInfo{
			DeviceKey: deviceKeyBytes,
		},
		DocType: b.docType,
		ValidityInfo: ValidityInfo{
			Signed:         time.Now().UTC(),
			ValidFrom:      b.validFrom.UTC(),
			ValidUntil:     b.validUntil.UTC(),
			ExpectedUpdate: nil,
		},
	}

	// Per ISO 18013-5, IssuerAuth signs MobileSecurityObjectBytes = #6.24(bstr
	// .cbor MobileSecurityObject), not the plain MSO encoding: the payload is
	// the tag-24 wire bytes.
	wrappedMSO, err := WrapInEncodedCBOR(mso)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode MSO: %w", err)
	}
	msoPayload, err := wrappedMSO.MarshalCBOR()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wrap MSO in tag 24: %w", err)
	}

	// Determine algorithm from signer key
	algorithm, err := AlgorithmForKey(b.signerKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to determine algorithm: %w", err)
	}

	// Sign the MSO using COSE_Sign1
	certDER := make([][]byte, 0, len(b.certChain))
	for _, cert := range b.certChain {
		certDER = append(certDER, cert.Raw)
	}

	signedMSO, err := Sign1(msoPayload, b.signerKey, algorithm, certDER, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign MSO: %w", err)
	}

	return signedMSO, issuerNameSpaces, nil
}

// convertDigestMapping converts the internal digest mapping to the MSO format.
func (b *MSOBuilder) convertDigestMapping(mapping DigestIDMapping) map[string]map[uint][]byte {
	result := make(map[string]map[uint][]byte, len(mapping))
	for ns, digests := range mapping {
		nsDigests := make(map[uint][]byte, len(digests))
		maps.Copy(nsDigests, digests)
		result[ns] = nsDigests
	}
	return result
}

// VerifyMSO verifies a signed MSO against the issuer certificate.
func VerifyMSO(signedMSO *COSESign1, issuerCert *x509.Certificate) (*MobileSecurityObject, error) {
	// Verify the COSE_Sign1 signature
	if err := Verify1(signedMSO, signedMSO.Payload, issuerCert.PublicKey, nil); err != nil {
		return nil, fmt.Errorf("MSO signature verification failed: %w", err)
	}

	// The payload is MobileSecurityObjectBytes = #6.24(bstr .cbor MSO): unwrap
	// the tag-24 envelope before decoding the MSO itself.
	var wrapped EncodedCBORBytes
	if err := wrapped.UnmarshalCBOR(signedMSO.Payload); err != nil {
		return nil, fmt.Errorf("failed to unwrap MSO tag 24: %w", err)
	}

	var mso MobileSecurityObject
	if err := cbor.Unmarshal(wrapped, &mso); err != nil {
		return nil, fmt.Errorf("failed to decode MSO: %w", err)
	}

	return &mso, nil
}

// VerifyDigest verifies that a tag-24-wrapped IssuerSignedItem matches its
// digest in the MSO, then returns the decoded item. Re-hashing the wrapped
// bytes rather than re-encoding the decoded struct is what makes this
// resilient to any re-encoding ambiguity between issuer and verifier.
func VerifyDigest(mso *MobileSecurityObject, namespace string, itemBytes IssuerSignedItemBytes) (*IssuerSignedItem, error) {
	nsDigests, ok := mso.ValueDigests[namespace]
	if !ok {
		return nil, mdocerr.New(mdocerr.ValueDigestsMissingForNamespace, fmt.Sprintf("namespace %s not found in MSO", namespace))
	}

	item, err := itemBytes.Decode()
	if err != nil {
		return nil, mdocerr.Wrap(mdocerr.MalformedIssuerSigned, "failed to decode issuer-signed item", err)
	}

	expectedDigest, ok := nsDigests[item.DigestID]
	if !ok {
		return nil, mdocerr.New(mdocerr.ValueDigestsMissingForDigestId, fmt.Sprintf("digest ID %d not found in namespace %s", item.DigestID, namespace))
	}

	actualDigest, err := itemBytes.Digest(DigestAlgorithm(mso.DigestAlgorithm))
	if err != nil {
		return nil, mdocerr.Wrap(mdocerr.UnsupportedAlgorithm, "failed to compute digest", err)
	}

	if hex.EncodeToString(actualDigest) != hex.EncodeToString(expectedDigest) {
		return nil, mdocerr.New(mdocerr.MsoDigestMismatch, fmt.Sprintf("digest mismatch for %s/%s", namespace, item.ElementIdentifier))
	}

	return item, nil
}

// ValidateMSOValidity checks if the MSO is currently valid, allowing skew of
// leeway on either side of the validity window to absorb clock drift.
func ValidateMSOValidity(mso *MobileSecurityObject, skew time.Duration) error {
	now := time.Now().UTC()

	if now.Before(mso.ValidityInfo.ValidFrom.Add(-skew)) {
		return mdocerr.New(mdocerr.DocNotYetValid, fmt.Sprintf("MSO not yet valid, valid from: %s", mso.ValidityInfo.ValidFrom))
	}

	if now.After(mso.ValidityInfo.ValidUntil.Add(skew)) {
		return mdocerr.New(mdocerr.DocExpired, fmt.Sprintf("MSO expired, valid until: %s", mso.ValidityInfo.ValidUntil))
	}

	return nil
}

// GetDigestIDs returns all digest IDs for a namespace in sorted order.
func GetDigestIDs(mso *MobileSecurityObject, namespace string) []uint {
	nsDigests, ok := mso.ValueDigests[namespace]
	if !ok {
		return nil
	}

	ids := make([]uint, 0, len(nsDigests))
	for id := range nsDigests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MSOInfo contains parsed information from an MSO for display purposes.
type MSOInfo struct {
	Version         string
	DigestAlgorithm string
	DocType         string
	Signed          time.Time
	ValidFrom       time.Time
	ValidUntil      time.Time
	Namespaces      []string
	DigestCount     int
}

// GetMSOInfo extracts display information from an MSO.
func GetMSOInfo(mso *MobileSecurityObject) MSOInfo {
	namespaces := make([]string, 0, len(mso.ValueDigests))
	digestCount := 0
	for ns, digests := range mso.ValueDigests {
		namespaces = append(namespaces, ns)
		digestCount += len(digests)
	}
	sort.Strings(namespaces)

	return MSOInfo{
		Version:         mso.Version,
		DigestAlgorithm: mso.DigestAlgorithm,
		DocType:         mso.DocType,
		Signed:          mso.ValidityInfo.Signed,
		ValidFrom:       mso.ValidityInfo.ValidFrom,
		ValidUntil:      mso.ValidityInfo.ValidUntil,
		Namespaces:      namespaces,
		DigestCount:     digestCount,
	}
}
