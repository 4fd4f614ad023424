// Package mdoc implements the ISO/IEC 18013-5:2021 Mobile Driving Licence (mDL) data model.
package mdoc

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"mdoc/pkg/mdocerr"
)

// DeviceAuthentication represents the structure to be signed/MACed for device authentication.
// Per ISO 18013-5:2021 section 9.1.3.
type DeviceAuthentication struct {
	// SessionTranscript is the session transcript bytes
	SessionTranscript []byte
	// DocType is the document type being authenticated
	DocType string
	// DeviceNameSpacesBytes is the CBOR-encoded device-signed namespaces
	DeviceNameSpacesBytes []byte
}

// DeviceAuthBuilder builds the DeviceSigned structure for mdoc authentication.
type DeviceAuthBuilder struct {
	docType           string
	sessionTranscript []byte
	deviceNameSpaces  map[string]map[string]any
	deviceKey         crypto.Signer
	sessionKey        []byte // For MAC-based authentication
	useMAC            bool
}

// NewDeviceAuthBuilder creates a new DeviceAuthBuilder.
func NewDeviceAuthBuilder(docType string) *DeviceAuthBuilder {
	return &DeviceAuthBuilder{
		docType:          docType,
		deviceNameSpaces: make(map[string]map[string]any),
	}
}

// WithSessionTranscript sets the session transcript.
func (b *DeviceAuthBuilder) WithSessionTranscript(transcript []byte) *DeviceAuthBuilder {
	b.sessionTranscript = transcript
	return b
}

// WithDeviceKey sets the device private key for signature-based authentication.
func (b *DeviceAuthBuilder) WithDeviceKey(key crypto.Signer) *DeviceAuthBuilder {
	b.deviceKey = key
	b.useMAC = false
	return b
}

// WithSessionKey sets the session key for MAC-based authentication.
// This is typically derived from the session encryption keys.
func (b *DeviceAuthBuilder) WithSessionKey(key []byte) *DeviceAuthBuilder {
	b.sessionKey = key
	b.useMAC = true
	return b
}

// AddDeviceNameSpace adds device-signed data elements.
func (b *DeviceAuthBuilder) AddDeviceNameSpace(namespace string, elements map[string]any) *DeviceAuthBuilder {
	b.deviceNameSpaces[namespace] = elements
	return b
}

// Build creates the DeviceSigned structure.
func (b *DeviceAuthBuilder) Build() (*DeviceSigned, error) {
	if b.sessionTranscript == nil {
		return nil, errors.New("session transcript is required")
	}

	if !b.useMAC && b.deviceKey == nil {
		return nil, errors.New("device key or session key is required")
	}

	if b.useMAC && len(b.sessionKey) == 0 {
		return nil, errors.New("session key is required for MAC authentication")
	}

	// DeviceNameSpacesBytes = #6.24(bstr .cbor DeviceNameSpaces): the map is
	// tag-24-wrapped before it is embedded in DeviceAuthentication.
	nameSpacesSrc := any(b.deviceNameSpaces)
	if len(b.deviceNameSpaces) == 0 {
		nameSpacesSrc = map[string]any{}
	}
	deviceNameSpacesBytes, err := WrapInEncodedCBOR(nameSpacesSrc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode device namespaces: %w", err)
	}

	// Build DeviceAuthentication structure
	// Per ISO 18013-5: DeviceAuthentication = ["DeviceAuthentication", SessionTranscript, DocType, DeviceNameSpacesBytes]
	// b.sessionTranscript already holds the caller-supplied SessionTranscript
	// CBOR encoding verbatim (see session_transcript.go); embed it as a raw
	// data item so it isn't re-encoded as a byte string.
	deviceAuth := []any{
		"DeviceAuthentication",
		cbor.RawMessage(b.sessionTranscript),
		b.docType,
		deviceNameSpacesBytes,
	}

	// The signed/MACed payload is DeviceAuthenticationBytes =
	// #6.24(bstr .cbor DeviceAuthentication), the tag-24 wire bytes of the array.
	wrappedDeviceAuth, err := WrapInEncodedCBOR(deviceAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to encode device authentication: %w", err)
	}
	deviceAuthBytes, err := wrappedDeviceAuth.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to wrap device authentication in tag 24: %w", err)
	}

	encoder, err := NewCBOREncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	var deviceSigned DeviceSigned
	deviceSigned.NameSpaces = deviceNameSpacesBytes

	if b.useMAC {
		// MAC-based authentication using session key
		mac0, err := b.createDeviceMAC(deviceAuthBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create device MAC: %w", err)
		}

		macBytes, err := encoder.Marshal(mac0)
		if err != nil {
			return nil, fmt.Errorf("failed to encode device MAC: %w", err)
		}
		deviceSigned.DeviceAuth.DeviceMac = macBytes
	} else {
		// Signature-based authentication using device key
		sign1, err := b.createDeviceSignature(deviceAuthBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to create device signature: %w", err)
		}

		sigBytes, err := encoder.Marshal(sign1)
		if err != nil {
			return nil, fmt.Errorf("failed to encode device signature: %w", err)
		}
		deviceSigned.DeviceAuth.DeviceSignature = sigBytes
	}

	return &deviceSigned, nil
}

// createDeviceSignature creates a COSE_Sign1 for device authentication.
func (b *DeviceAuthBuilder) createDeviceSignature(payload []byte) (*COSESign1, error) {
	algorithm, err := AlgorithmForKey(b.deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to determine algorithm: %w", err)
	}

	// Detached signature - payload is external
	return Sign1Detached(payload, b.deviceKey, algorithm, nil, nil)
}

// createDeviceMAC creates a COSE_Mac0 for device authentication.
func (b *DeviceAuthBuilder) createDeviceMAC(payload []byte) (*COSEMac0, error) {
	// Use HMAC-SHA256 for MAC authentication
	return Mac0(payload, b.sessionKey, AlgorithmHMAC256, nil)
}

// DeviceAuthVerifier verifies device authentication.
type DeviceAuthVerifier struct {
	sessionTranscript []byte
	docType           string
}

// NewDeviceAuthVerifier creates a new DeviceAuthVerifier.
func NewDeviceAuthVerifier(sessionTranscript []byte, docType string) *DeviceAuthVerifier {
	return &DeviceAuthVerifier{
		sessionTranscript: sessionTranscript,
		docType:           docType,
	}
}

// VerifySignature verifies a signature-based device authentication.
func (v *DeviceAuthVerifier) VerifySignature(deviceSigned *DeviceSigned, deviceKey crypto.PublicKey) error {
	if len(deviceSigned.DeviceAuth.DeviceSignature) == 0 {
		return errors.New("no device signature present")
	}

	encoder, err := NewCBOREncoder()
	if err != nil {
		return fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	// Parse the COSE_Sign1
	var sign1 COSESign1
	if err := encoder.Unmarshal(deviceSigned.DeviceAuth.DeviceSignature, &sign1); err != nil {
		return fmt.Errorf("failed to parse device signature: %w", err)
	}

	// Reconstruct DeviceAuthentication
	deviceAuthBytes, err := v.buildDeviceAuthBytes(deviceSigned.NameSpaces)
	if err != nil {
		return fmt.Errorf("failed to build device auth bytes: %w", err)
	}

	// Verify the signature
	if err := Verify1(&sign1, deviceAuthBytes, deviceKey, nil); err != nil {
		return fmt.Errorf("device signature verification failed: %w", err)
	}

	return nil
}

// VerifyMAC verifies a MAC-based device authentication.
func (v *DeviceAuthVerifier) VerifyMAC(deviceSigned *DeviceSigned, sessionKey []byte) error {
	if len(deviceSigned.DeviceAuth.DeviceMac) == 0 {
		return errors.New("no device MAC present")
	}

	encoder, err := NewCBOREncoder()
	if err != nil {
		return fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	// Parse the COSE_Mac0
	var mac0 COSEMac0
	if err := encoder.Unmarshal(deviceSigned.DeviceAuth.DeviceMac, &mac0); err != nil {
		return fmt.Errorf("failed to parse device MAC: %w", err)
	}

	// Reconstruct DeviceAuthentication
	deviceAuthBytes, err := v.buildDeviceAuthBytes(deviceSigned.NameSpaces)
	if err != nil {
		return fmt.Errorf("failed to build device auth bytes: %w", err)
	}

	// Verify the MAC
	if err := VerifyCOSEMac0(&mac0, sessionKey, nil); err != nil {
		return fmt.Errorf("device MAC verification failed: %w", err)
	}

	// Also verify the payload matches
	if len(mac0.Payload) > 0 && !bytes.Equal(mac0.Payload, deviceAuthBytes) {
		return errors.New("device auth payload mismatch")
	}

	return nil
}

// buildDeviceAuthBytes reconstructs the DeviceAuthenticationBytes wire
// encoding for verification: the outer array tag-24-wrapped, carrying the
// already-tag-24-wrapped device namespaces.
func (v *DeviceAuthVerifier) buildDeviceAuthBytes(deviceNameSpacesBytes DeviceNameSpacesBytes) ([]byte, error) {
	if deviceNameSpacesBytes == nil {
		empty, err := WrapInEncodedCBOR(map[string]any{})
		if err != nil {
			return nil, err
		}
		deviceNameSpacesBytes = empty
	}

	deviceAuth := []any{
		"DeviceAuthentication",
		cbor.RawMessage(v.sessionTranscript),
		v.docType,
		deviceNameSpacesBytes,
	}

	wrapped, err := WrapInEncodedCBOR(deviceAuth)
	if err != nil {
		return nil, err
	}
	return wrapped.MarshalCBOR()
}

// ExtractDeviceKeyFromMSO extracts the device public key from the MSO.
func ExtractDeviceKeyFromMSO(mso *MobileSecurityObject) (crypto.PublicKey, error) {
	if mso == nil {
		return nil, errors.New("MSO is nil")
	}

	if len(mso.DeviceKeyInfo.DeviceKey) == 0 {
		return nil, errors.New("device key not present in MSO")
	}

	encoder, err := NewCBOREncoder()
	if err != nil {
		return nil, err
	}

	// Parse the COSE_Key
	var coseKey COSEKey
	if err := encoder.Unmarshal(mso.DeviceKeyInfo.DeviceKey, &coseKey); err != nil {
		return nil, fmt.Errorf("failed to parse device COSE key: %w", err)
	}

	return coseKey.ToPublicKey()
}

// VerifyDeviceAuth verifies device authentication as part of document verification.
// This should be called after verifying the issuer signature. Device
// authentication is mandatory: a Document with neither DeviceSignature nor
// DeviceMac present fails verification rather than being waved through.
func (v *Verifier) VerifyDeviceAuth(doc *Document, mso *MobileSecurityObject, sessionTranscript []byte) error {
	hasSignature := len(doc.DeviceSigned.DeviceAuth.DeviceSignature) > 0
	hasMAC := len(doc.DeviceSigned.DeviceAuth.DeviceMac) > 0

	if !hasSignature && !hasMAC {
		return mdocerr.New(mdocerr.DeviceSignatureMissing, "device authentication is required but absent")
	}
	if hasSignature && hasMAC {
		return mdocerr.New(mdocerr.DeviceMacNotSupported, "device authentication carries a DeviceMac alongside DeviceSignature; MAC-based device auth is rejected even when a signature is also present")
	}

	// Extract device key from MSO
	deviceKey, err := ExtractDeviceKeyFromMSO(mso)
	if err != nil {
		return mdocerr.Wrap(mdocerr.DeviceKeyUnavailable, "failed to extract device key", err)
	}

	verifier := NewDeviceAuthVerifier(sessionTranscript, doc.DocType)

	if hasSignature {
		if err := verifier.VerifySignature(&doc.DeviceSigned, deviceKey); err != nil {
			return mdocerr.Wrap(mdocerr.DeviceSignatureInvalid, "device signature verification failed", err)
		}
		return nil
	}

	// For MAC verification, we would need the session key
	// This is typically derived from session encryption
	return mdocerr.New(mdocerr.DeviceMacNotSupported, "MAC verification requires session key - use VerifyDeviceAuthWithSessionKey")
}

// VerifyDeviceAuthWithSessionKey verifies MAC-based device authentication.
func (v *Verifier) VerifyDeviceAuthWithSessionKey(doc *Document, sessionTranscript []byte, sessionKey []byte) error {
	if len(doc.DeviceSigned.DeviceAuth.DeviceMac) == 0 {
		return errors.New("no device MAC present")
	}

	verifier := NewDeviceAuthVerifier(sessionTranscript, doc.DocType)
	return verifier.VerifyMAC(&doc.DeviceSigned, sessionKey)
}

// DeriveDeviceAuthenticationKey derives the key used for device MAC authentication
// from the ECDH shared secret of the session encryption.
func DeriveDeviceAuthenticationKey(sessionEncryption *SessionEncryption) ([]byte, error) {
	if sessionEncryption == nil {
		return nil, errors.New("session encryption is nil")
	}

	// The key is HKDF-SHA256(sharedSecret, salt=nil, info="EMacKey", L=32).
	// It is independent of the SKReader/SKDevice session keys, and the
	// session transcript is not an input.
	return hkdfDerive(
		sessionEncryption.sharedSecret, // Use shared secret as base
		nil,                            // No salt
		[]byte("EMacKey"),              // Info per ISO 18013-5
		32,                             // 256 bits
	)
}
