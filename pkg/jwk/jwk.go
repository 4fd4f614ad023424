// Package jwk wraps github.com/lestrrat-go/jwx/v3's jwk package with the
// narrow surface mdoc needs: parsing/serializing JSON Web Keys and
// producing RFC 7638 thumbprints. COSE_Key is a distinct wire format (see
// mdoc.COSEKey); the kty/crv/alg mapping between the two lives in the
// mdoc package, which imports this one, not the other way around.
package jwk

import (
	"crypto"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Key is a parsed JSON Web Key.
type Key = jwk.Key

// Parse decodes a JWK from its JSON representation.
func Parse(data []byte) (Key, error) {
	k, err := jwk.ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("jwk: parse: %w", err)
	}
	return k, nil
}

// Marshal encodes a JWK to its JSON representation.
func Marshal(key Key) ([]byte, error) {
	b, err := jwk.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("jwk: marshal: %w", err)
	}
	return b, nil
}

// FromPublicKey wraps a raw crypto.PublicKey (ECDSA or Ed25519) as a JWK.
func FromPublicKey(pub crypto.PublicKey) (Key, error) {
	k, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("jwk: import public key: %w", err)
	}
	return k, nil
}

// FromPrivateKey wraps a raw crypto.Signer (ECDSA or Ed25519) as a JWK.
func FromPrivateKey(priv crypto.Signer) (Key, error) {
	k, err := jwk.Import(priv)
	if err != nil {
		return nil, fmt.Errorf("jwk: import private key: %w", err)
	}
	return k, nil
}

// Raw exports the key's underlying Go crypto type (*ecdsa.PublicKey,
// ed25519.PublicKey, *ecdsa.PrivateKey, ed25519.PrivateKey, ...).
func Raw(key Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("jwk: export raw key: %w", err)
	}
	return raw, nil
}

// Thumbprint computes the RFC 7638 JWK thumbprint using SHA-256, the
// digest OID4VP's DC-API handover (spec §6) binds a verifier key to.
func Thumbprint(key Key) ([]byte, error) {
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("jwk: thumbprint: %w", err)
	}
	return sum, nil
}
