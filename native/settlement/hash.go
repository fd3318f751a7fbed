package settlement

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	protocolName    = "clearport"
	protocolVersion = "1"
)

// Type hashes tag every signable message with its operation, so a signature
// over one message kind can never be replayed as authorization for another.
// Every field is encoded as a fixed 32-byte word; variable-length fields are
// hashed first, which rules out concatenation collisions between adjacent
// fields.
var (
	domainTypeHash = ethcrypto.Keccak256Hash([]byte(
		"ClearportDomain(string name,string version,uint256 chainId,address verifyingEngine)",
	))
	orderTypeHash = ethcrypto.Keccak256Hash([]byte(
		"Order(address trader,uint8 role,string tokenIn,string tokenOut,uint256 amountIn,uint256 amountOut,bytes32 salt,uint64 nonce,address matchingValidator,uint64 deadline)",
	))
)

// Domain separates signatures by network and engine identity. Two deployments
// of the engine, or the same engine on two chains, never share valid
// signatures.
type Domain struct {
	ChainID uint64
	Engine  [20]byte
}

// Separator returns the domain separator hash.
func (d Domain) Separator() [32]byte {
	var out [32]byte
	hash := ethcrypto.Keccak256(
		domainTypeHash[:],
		ethcrypto.Keccak256([]byte(protocolName)),
		ethcrypto.Keccak256([]byte(protocolVersion)),
		wordUint(d.ChainID),
		wordAddr(d.Engine),
	)
	copy(out[:], hash)
	return out
}

// OrderDigest computes the signing digest for an order under the supplied
// domain. The order must already be sanitised.
func OrderDigest(d Domain, o *Order) ([32]byte, error) {
	var out [32]byte
	if o == nil {
		return out, fmt.Errorf("settlement: nil order")
	}
	amountIn, err := wordBig(o.AmountIn)
	if err != nil {
		return out, fmt.Errorf("settlement: amountIn: %w", err)
	}
	amountOut, err := wordBig(o.AmountOut)
	if err != nil {
		return out, fmt.Errorf("settlement: amountOut: %w", err)
	}
	structHash := ethcrypto.Keccak256(
		orderTypeHash[:],
		wordAddr(o.Trader),
		wordUint(uint64(o.Role)),
		ethcrypto.Keccak256([]byte(o.TokenIn)),
		ethcrypto.Keccak256([]byte(o.TokenOut)),
		amountIn,
		amountOut,
		o.Salt[:],
		wordUint(o.Nonce),
		wordAddr(o.MatchingValidator),
		wordUint(uint64(o.Deadline)),
	)
	sep := d.Separator()
	copy(out[:], ethcrypto.Keccak256([]byte{0x19, 0x01}, sep[:], structHash))
	return out, nil
}

// PairDigest derives the commitment hash for a matched order pair.
func PairDigest(maker, taker [32]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(maker[:], taker[:]))
	return out
}

func wordUint(v uint64) []byte {
	word := make([]byte, 32)
	new(big.Int).SetUint64(v).FillBytes(word)
	return word
}

func wordBig(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("nil amount")
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount")
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("amount exceeds 256 bits")
	}
	word := make([]byte, 32)
	v.FillBytes(word)
	return word, nil
}

func wordAddr(addr [20]byte) []byte {
	word := make([]byte, 32)
	copy(word[12:], addr[:])
	return word
}
