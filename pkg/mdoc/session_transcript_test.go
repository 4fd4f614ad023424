package mdoc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/url"
	"testing"

	"gotest.tools/v3/golden"

	"mdoc/pkg/jwk"
)

// TestBuildOpenID4VPDCAPISessionTranscript_NilThumbprint pins the encoding
// down to an exact byte sequence for origin "https://example.com" and nonce
// "exc7gBkxjx1rdc9udRrveKvSsJIq80avlXeLHhGwqtA" with no verifier key
// presented. The fixture was computed independently (sha256 over the
// canonical three-element CBOR array) and is not the verifier-keyed variant
// quoted elsewhere, since that one depends on a specific P-256 JWK this
// package does not fix a value for.
func TestBuildOpenID4VPDCAPISessionTranscript_NilThumbprint(t *testing.T) {
	origin := "https://example.com"
	nonce := "exc7gBkxjx1rdc9udRrveKvSsJIq80avlXeLHhGwqtA"

	transcript, err := BuildOpenID4VPDCAPISessionTranscript(origin, nonce, nil)
	if err != nil {
		t.Fatalf("BuildOpenID4VPDCAPISessionTranscript() error = %v", err)
	}

	want := golden.Get(t, "session_transcript_nil_thumbprint.golden")

	if !bytes.Equal(transcript, want) {
		t.Errorf("transcript = %x, want %x", transcript, want)
	}
}

func TestBuildOpenID4VPDCAPISessionTranscript_Structure(t *testing.T) {
	transcript, err := BuildOpenID4VPDCAPISessionTranscript("https://verifier.example", "nonce-value", []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("BuildOpenID4VPDCAPISessionTranscript() error = %v", err)
	}

	// [null, null, ["OpenID4VPDCAPIHandover", hash]]
	if transcript[0] != 0x83 {
		t.Errorf("transcript[0] = %x, want array(3) header 0x83", transcript[0])
	}
	if transcript[1] != 0xf6 || transcript[2] != 0xf6 {
		t.Errorf("transcript[1:3] = %x, want two CBOR null bytes f6 f6", transcript[1:3])
	}
}

func TestBuildOpenID4VPDCAPISessionTranscript_ThumbprintChangesHash(t *testing.T) {
	origin := "https://example.com"
	nonce := "exc7gBkxjx1rdc9udRrveKvSsJIq80avlXeLHhGwqtA"

	withoutKey, err := BuildOpenID4VPDCAPISessionTranscript(origin, nonce, nil)
	if err != nil {
		t.Fatalf("BuildOpenID4VPDCAPISessionTranscript() error = %v", err)
	}

	withKey, err := BuildOpenID4VPDCAPISessionTranscript(origin, nonce, []byte{0xAA, 0xBB, 0xCC})
	if err != nil {
		t.Fatalf("BuildOpenID4VPDCAPISessionTranscript() error = %v", err)
	}

	if bytes.Equal(withoutKey, withKey) {
		t.Error("transcript should differ when a JWK thumbprint is present")
	}
}

func TestOpenID4VPDCAPISessionTranscriptForKey_NilKey(t *testing.T) {
	withNilKey, err := OpenID4VPDCAPISessionTranscriptForKey("https://example.com", "nonce", nil)
	if err != nil {
		t.Fatalf("OpenID4VPDCAPISessionTranscriptForKey() error = %v", err)
	}

	withoutKey, err := BuildOpenID4VPDCAPISessionTranscript("https://example.com", "nonce", nil)
	if err != nil {
		t.Fatalf("BuildOpenID4VPDCAPISessionTranscript() error = %v", err)
	}

	if !bytes.Equal(withNilKey, withoutKey) {
		t.Error("a nil verifier key should produce the same transcript as an explicit nil thumbprint")
	}
}

func TestOpenID4VPDCAPISessionTranscriptForKey_WithKey(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	verifierKey, err := jwk.FromPublicKey(priv.Public())
	if err != nil {
		t.Fatalf("jwk.FromPublicKey() error = %v", err)
	}

	transcript, err := OpenID4VPDCAPISessionTranscriptForKey("https://example.com", "nonce", verifierKey)
	if err != nil {
		t.Fatalf("OpenID4VPDCAPISessionTranscriptForKey() error = %v", err)
	}

	thumbprint, err := jwk.Thumbprint(verifierKey)
	if err != nil {
		t.Fatalf("jwk.Thumbprint() error = %v", err)
	}

	transcriptNil, err := BuildOpenID4VPDCAPISessionTranscript("https://example.com", "nonce", nil)
	if err != nil {
		t.Fatalf("BuildOpenID4VPDCAPISessionTranscript() error = %v", err)
	}
	if bytes.Equal(transcript, transcriptNil) {
		t.Error("a real verifier key should change the encoded transcript")
	}

	transcriptDirect, err := BuildOpenID4VPDCAPISessionTranscript("https://example.com", "nonce", thumbprint)
	if err != nil {
		t.Fatalf("BuildOpenID4VPDCAPISessionTranscript() error = %v", err)
	}
	if !bytes.Equal(transcript, transcriptDirect) {
		t.Error("OpenID4VPDCAPISessionTranscriptForKey should match building directly from the key's thumbprint")
	}
}

func TestBuildMdocWebAPISessionTranscript_NFCHandover(t *testing.T) {
	deviceEngagementBytes := []byte{0xD8, 0x18, 0x41, 0xA0} // tag-24 wrapped empty map, placeholder
	eReaderKeyBytes := []byte{0xD8, 0x18, 0x41, 0xA0}

	transcript, err := BuildMdocWebAPISessionTranscript(deviceEngagementBytes, eReaderKeyBytes, NFCHandover())
	if err != nil {
		t.Fatalf("BuildMdocWebAPISessionTranscript() error = %v", err)
	}

	if len(transcript) == 0 {
		t.Fatal("transcript should not be empty")
	}

	// Outer wrapping is tag 24 over a CBOR-encoded 3-element array.
	var unwrapped EncodedCBORBytes
	if err := UnwrapEncodedCBOR(EncodedCBORBytes(transcript), &unwrapped); err != nil {
		t.Fatalf("UnwrapEncodedCBOR() error = %v", err)
	}
	if unwrapped[0] != 0x83 {
		t.Errorf("inner array header = %x, want 0x83 (array of 3)", unwrapped[0])
	}
}

func TestBuildMdocWebAPISessionTranscript_QRHandover(t *testing.T) {
	deviceEngagementBytes := []byte{0xD8, 0x18, 0x41, 0xA0}
	eReaderKeyBytes := []byte{0xD8, 0x18, 0x41, 0xA0}

	transcript, err := BuildMdocWebAPISessionTranscript(deviceEngagementBytes, eReaderKeyBytes, QRHandover())
	if err != nil {
		t.Fatalf("BuildMdocWebAPISessionTranscript() error = %v", err)
	}
	if len(transcript) == 0 {
		t.Fatal("transcript should not be empty")
	}
}

func TestBuildMdocWebAPISessionTranscript_WebsiteHandover(t *testing.T) {
	deviceEngagementBytes := []byte{0xD8, 0x18, 0x41, 0xA0}
	eReaderKeyBytes := []byte{0xD8, 0x18, 0x41, 0xA0}

	referrer, err := url.Parse("https://reader.example/verify")
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}

	handover, err := WebsiteHandover(referrer)
	if err != nil {
		t.Fatalf("WebsiteHandover() error = %v", err)
	}

	withHandover, err := BuildMdocWebAPISessionTranscript(deviceEngagementBytes, eReaderKeyBytes, handover)
	if err != nil {
		t.Fatalf("BuildMdocWebAPISessionTranscript() error = %v", err)
	}

	withoutHandover, err := BuildMdocWebAPISessionTranscript(deviceEngagementBytes, eReaderKeyBytes, NFCHandover())
	if err != nil {
		t.Fatalf("BuildMdocWebAPISessionTranscript() error = %v", err)
	}

	if bytes.Equal(withHandover, withoutHandover) {
		t.Error("a non-empty handover should change the encoded transcript")
	}
}

func TestBuildMdocWebAPISessionTranscript_PreservesEngagementBytes(t *testing.T) {
	deviceEngagementBytes := []byte{0xD8, 0x18, 0x44, 0x81, 0x01, 0x02, 0x03}
	eReaderKeyBytes := []byte{0xD8, 0x18, 0x42, 0xA1, 0x0A}

	transcript, err := BuildMdocWebAPISessionTranscript(deviceEngagementBytes, eReaderKeyBytes, nil)
	if err != nil {
		t.Fatalf("BuildMdocWebAPISessionTranscript() error = %v", err)
	}

	if !bytes.Contains(transcript, deviceEngagementBytes) {
		t.Error("transcript should embed deviceEngagementBytes verbatim")
	}
	if !bytes.Contains(transcript, eReaderKeyBytes) {
		t.Error("transcript should embed eReaderKeyBytes verbatim")
	}
}

func TestBuildMdocWebAPISessionTranscript_NilHandoverIsCBORNull(t *testing.T) {
	deviceEngagementBytes := []byte{0xD8, 0x18, 0x41, 0xA0}
	eReaderKeyBytes := []byte{0xD8, 0x18, 0x41, 0xA0}

	transcript, err := BuildMdocWebAPISessionTranscript(deviceEngagementBytes, eReaderKeyBytes, nil)
	if err != nil {
		t.Fatalf("BuildMdocWebAPISessionTranscript() error = %v", err)
	}

	var unwrapped EncodedCBORBytes
	if err := UnwrapEncodedCBOR(EncodedCBORBytes(transcript), &unwrapped); err != nil {
		t.Fatalf("UnwrapEncodedCBOR() error = %v", err)
	}

	if unwrapped[len(unwrapped)-1] != 0xf6 {
		t.Errorf("last byte = %x, want CBOR null 0xf6 for an empty handover", unwrapped[len(unwrapped)-1])
	}
}
