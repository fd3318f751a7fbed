package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"clearport/crypto"
	"clearport/native/settlement"
)

const passphraseEnv = "CLEARPORT_KEY_PASS"

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a keystore file path.")
			printUsage()
			return
		}
		generateKey(args[1])
	case "address":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a keystore file path.")
			printUsage()
			return
		}
		showAddress(args[1])
	case "order-hash":
		if len(args) < 4 {
			fmt.Println("Error: Please provide chain id, engine address and an order JSON file.")
			printUsage()
			return
		}
		orderHash(args[1], args[2], args[3])
	case "sign-order":
		if len(args) < 5 {
			fmt.Println("Error: Please provide chain id, engine address, an order JSON file and a keystore file.")
			printUsage()
			return
		}
		signOrder(args[1], args[2], args[3], args[4])
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: clearport-cli <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key <file>                                  Generate a key and store it encrypted")
	fmt.Println("  address <file>                                       Print the bech32 address for a stored key")
	fmt.Println("  order-hash <chain-id> <engine-addr> <order.json>     Print the signing digest for an order")
	fmt.Println("  sign-order <chain-id> <engine-addr> <order.json> <file>  Sign an order with a stored key")
	fmt.Printf("The keystore passphrase is read from %s.\n", passphraseEnv)
}

func passphrase() string {
	pass := os.Getenv(passphraseEnv)
	if pass == "" {
		fmt.Fprintf(os.Stderr, "Error: %s is not set.\n", passphraseEnv)
		os.Exit(1)
	}
	return pass
}

func generateKey(path string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(path, key, passphrase()); err != nil {
		fmt.Printf("Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	raw := key.PubKey().Address()
	addr, err := crypto.NewAddress(raw[:])
	if err != nil {
		fmt.Printf("Error deriving address: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("New key saved to %s\n", path)
	fmt.Printf("Address: %s\n", addr)
}

func showAddress(path string) {
	key, err := crypto.LoadFromKeystore(path, passphrase())
	if err != nil {
		fmt.Printf("Error loading keystore: %v\n", err)
		os.Exit(1)
	}
	raw := key.PubKey().Address()
	addr, err := crypto.NewAddress(raw[:])
	if err != nil {
		fmt.Printf("Error deriving address: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", addr)
}

// orderFile mirrors the signable order fields with CLI-friendly encodings:
// bech32 addresses, decimal amounts, hex salt.
type orderFile struct {
	Trader            string `json:"trader"`
	Role              string `json:"role"`
	TokenIn           string `json:"tokenIn"`
	TokenOut          string `json:"tokenOut"`
	AmountIn          string `json:"amountIn"`
	AmountOut         string `json:"amountOut"`
	Salt              string `json:"salt"`
	Nonce             uint64 `json:"nonce"`
	MatchingValidator string `json:"matchingValidator"`
	Deadline          int64  `json:"deadline"`
}

func loadOrder(path string) (*settlement.Order, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file orderFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	order := &settlement.Order{
		TokenIn:  file.TokenIn,
		TokenOut: file.TokenOut,
		Nonce:    file.Nonce,
		Deadline: file.Deadline,
	}
	switch strings.ToLower(strings.TrimSpace(file.Role)) {
	case "maker":
		order.Role = settlement.RoleMaker
	case "taker":
		order.Role = settlement.RoleTaker
	default:
		return nil, fmt.Errorf("unknown role %q", file.Role)
	}
	trader, err := crypto.DecodeAddress(file.Trader)
	if err != nil {
		return nil, fmt.Errorf("trader: %w", err)
	}
	order.Trader = trader.Bytes()
	validator, err := crypto.DecodeAddress(file.MatchingValidator)
	if err != nil {
		return nil, fmt.Errorf("matchingValidator: %w", err)
	}
	order.MatchingValidator = validator.Bytes()

	amountIn, ok := new(big.Int).SetString(strings.TrimSpace(file.AmountIn), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amountIn %q", file.AmountIn)
	}
	order.AmountIn = amountIn
	amountOut, ok := new(big.Int).SetString(strings.TrimSpace(file.AmountOut), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amountOut %q", file.AmountOut)
	}
	order.AmountOut = amountOut

	salt, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(file.Salt), "0x"))
	if err != nil || len(salt) != 32 {
		return nil, fmt.Errorf("salt must be 32 hex bytes")
	}
	copy(order.Salt[:], salt)

	return settlement.SanitizeOrder(order)
}

func loadDomain(chainIDArg, engineArg string) (settlement.Domain, error) {
	chainID, err := strconv.ParseUint(chainIDArg, 10, 64)
	if err != nil {
		return settlement.Domain{}, fmt.Errorf("invalid chain id %q", chainIDArg)
	}
	engine, err := crypto.DecodeAddress(engineArg)
	if err != nil {
		return settlement.Domain{}, fmt.Errorf("engine address: %w", err)
	}
	return settlement.Domain{ChainID: chainID, Engine: engine.Bytes()}, nil
}

func orderHash(chainIDArg, engineArg, orderPath string) {
	domain, err := loadDomain(chainIDArg, engineArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	order, err := loadOrder(orderPath)
	if err != nil {
		fmt.Printf("Error loading order: %v\n", err)
		os.Exit(1)
	}
	digest, err := settlement.OrderDigest(domain, order)
	if err != nil {
		fmt.Printf("Error hashing order: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Digest: 0x%s\n", hex.EncodeToString(digest[:]))
}

func signOrder(chainIDArg, engineArg, orderPath, keyPath string) {
	domain, err := loadDomain(chainIDArg, engineArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	order, err := loadOrder(orderPath)
	if err != nil {
		fmt.Printf("Error loading order: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.LoadFromKeystore(keyPath, passphrase())
	if err != nil {
		fmt.Printf("Error loading keystore: %v\n", err)
		os.Exit(1)
	}
	if key.PubKey().Address() != order.Trader {
		fmt.Println("Error: keystore address does not match the order trader.")
		os.Exit(1)
	}
	digest, err := settlement.OrderDigest(domain, order)
	if err != nil {
		fmt.Printf("Error hashing order: %v\n", err)
		os.Exit(1)
	}
	sig, err := settlement.SignDigest(digest, key)
	if err != nil {
		fmt.Printf("Error signing order: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Digest:    0x%s\n", hex.EncodeToString(digest[:]))
	fmt.Printf("Signature: 0x%s\n", hex.EncodeToString(sig))
}
