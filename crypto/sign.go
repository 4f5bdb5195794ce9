package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature (r || s || v).
const SignatureLength = 65

// ErrMalformedSignature is returned when a signature cannot be parsed.
var ErrMalformedSignature = errors.New("crypto: malformed signature")

// PersonalHash wraps a 32-byte digest in the personal-message envelope used by
// wallets: keccak256("\x19Ethereum Signed Message:\n32" || digest).
func PersonalHash(digest [32]byte) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), digest[:]))
	return out
}

// SignDigest signs the personal-message hash of digest. The returned
// signature carries V in {27, 28}.
func SignDigest(key *PrivateKey, digest [32]byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	hash := PersonalHash(digest)
	sig, err := crypto.Sign(hash[:], key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverDigestSigner returns the address that produced sig over the
// personal-message hash of digest. V may be 0/1 or 27/28.
func RecoverDigestSigner(digest [32]byte, sig []byte) (Address, error) {
	if len(sig) != SignatureLength {
		return Address{}, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return Address{}, fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, sig[64])
	}
	hash := PersonalHash(digest)
	pub, err := crypto.SigToPub(hash[:], normalized)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return Address(crypto.PubkeyToAddress(*pub)), nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
