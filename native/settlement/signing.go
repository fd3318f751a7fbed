package settlement

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"clearport/crypto"
)

var (
	secp256k1N     = ethcrypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(ethcrypto.S256().Params().N, 1)
)

// SignDigest produces a 65-byte [R||S||V] signature over the digest. The
// underlying signer always emits the canonical low-s form.
func SignDigest(digest [32]byte, key *crypto.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("settlement: nil signing key")
	}
	return ethcrypto.Sign(digest[:], key.PrivateKey)
}

// RecoverSigner recovers the 20-byte signer identity from a detached 65-byte
// signature over the digest. Non-canonical signatures (high-s, invalid
// recovery id, zero scalars) are rejected so a malleated duplicate of a valid
// signature can never pass as a second, distinct authorization.
func RecoverSigner(digest [32]byte, sig []byte) ([20]byte, error) {
	var signer [20]byte
	if len(sig) != 65 {
		return signer, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if r.Sign() == 0 || s.Sign() == 0 {
		return signer, fmt.Errorf("%w: zero scalar", ErrInvalidSignature)
	}
	if r.Cmp(secp256k1N) >= 0 {
		return signer, fmt.Errorf("%w: r out of range", ErrInvalidSignature)
	}
	if s.Cmp(secp256k1HalfN) > 0 {
		return signer, fmt.Errorf("%w: non-canonical s", ErrInvalidSignature)
	}
	if sig[64] > 1 {
		return signer, fmt.Errorf("%w: invalid recovery id", ErrInvalidSignature)
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return signer, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	copy(signer[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	if signer == ([20]byte{}) {
		return signer, fmt.Errorf("%w: null signer", ErrInvalidSignature)
	}
	return signer, nil
}
