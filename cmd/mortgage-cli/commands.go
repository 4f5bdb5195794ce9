package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mortgagechain/cmd/internal/passphrase"
	"mortgagechain/crypto"
	"mortgagechain/rpc"
)

const jwtSecretEnv = "MORTGAGE_JWT_SECRET"

var keyPassphrase = func() (string, error) {
	return passphrase.NewSource(keyPassEnv, "key").Get()
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore %s not found. run mortgage-cli keygen first", path)
		}
		return nil, err
	}
	pass, err := keyPassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore %s: %w", path, err)
	}
	return key, nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	out := fs.String("out", "wallet.keystore", "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", *out)
		return 1
	}
	pass, err := keyPassphrase()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Saved %s\nAddress: %s\n", *out, key.PubKey().Address())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	keyPath := fs.String("key", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address())
	return 0
}

// runToken issues a bearer token for the key's address. The node must share
// the signing secret.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	keyPath := fs.String("key", "", "keystore file")
	secret := fs.String("secret", "", "JWT signing secret (defaults to $"+jwtSecretEnv+")")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*secret) == "" {
		*secret = os.Getenv(jwtSecretEnv)
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := rpc.IssueToken(*secret, [20]byte(key.PubKey().Address()), *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func parseDigest(raw string) ([32]byte, error) {
	var digest [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return digest, fmt.Errorf("digest must be hex: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("digest must be 32 bytes, got %d", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}

func runSign(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign", stderr)
	keyPath := fs.String("key", "", "keystore file")
	digestHex := fs.String("digest", "", "0x-prefixed 32-byte digest, e.g. a loan identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	digest, err := parseDigest(*digestHex)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := crypto.SignDigest(key, digest)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "0x"+hex.EncodeToString(sig))
	return 0
}

// runCall sends METHOD with an optional JSON object. Auth is attached when
// a token is available.
func runCall(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Error: call requires a method name")
		return 1
	}
	var params interface{}
	if len(args) > 1 {
		raw := json.RawMessage(strings.Join(args[1:], " "))
		if !json.Valid(raw) {
			fmt.Fprintln(stderr, "Error: params must be a JSON object")
			return 1
		}
		params = raw
	}
	result, err := rpcCall(args[0], params, strings.TrimSpace(rpcAuthToken) != "")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSONResult(stdout, result)
	return 0
}

// runRequest fetches the helper loan identifier for the given terms, signs it
// with the borrower key and submits helper_requestMortgage.
func runRequest(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("request", stderr)
	var (
		keyPath      string
		x, y         int64
		amount       string
		interestBps  uint64
		punitoryBps  uint64
		duesIn       uint64
		cancelableAt uint64
		expiresAt    uint64
		metadata     string
	)
	fs.StringVar(&keyPath, "key", "", "borrower keystore file")
	fs.Int64Var(&x, "x", 0, "parcel x coordinate")
	fs.Int64Var(&y, "y", 0, "parcel y coordinate")
	fs.StringVar(&amount, "amount", "", "loan amount in loan currency")
	fs.Uint64Var(&interestBps, "interest-bps", 0, "annual interest in basis points")
	fs.Uint64Var(&punitoryBps, "punitory-bps", 0, "punitory interest in basis points")
	fs.Uint64Var(&duesIn, "dues-in", 0, "seconds from lending until the loan is due")
	fs.Uint64Var(&cancelableAt, "cancelable-at", 0, "seconds after which early payment is accepted")
	fs.Uint64Var(&expiresAt, "expires-at", 0, "unix time after which the request cannot be lent")
	fs.StringVar(&metadata, "metadata", "", "free-form loan metadata")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(amount) == "" || duesIn == 0 || expiresAt == 0 {
		fmt.Fprintln(stderr, "Error: --amount, --dues-in and --expires-at are required")
		return 1
	}
	key, err := loadKey(keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	terms := map[string]interface{}{
		"amount":       amount,
		"interestBps":  interestBps,
		"punitoryBps":  punitoryBps,
		"duesIn":       duesIn,
		"cancelableAt": cancelableAt,
		"expiresAt":    expiresAt,
		"metadata":     metadata,
	}

	idParams := map[string]interface{}{"borrower": key.PubKey().Address().String()}
	for k, v := range terms {
		idParams[k] = v
	}
	raw, err := rpcCall("helper_identifier", idParams, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var id struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(raw, &id); err != nil {
		fmt.Fprintf(stderr, "Error: unexpected identifier response: %v\n", err)
		return 1
	}
	digest, err := parseDigest(id.Identifier)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	sig, err := crypto.SignDigest(key, digest)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	reqParams := map[string]interface{}{
		"parcel":    map[string]int64{"x": x, "y": y},
		"signature": "0x" + hex.EncodeToString(sig),
	}
	for k, v := range terms {
		reqParams[k] = v
	}
	result, err := rpcCall("helper_requestMortgage", reqParams, true)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printJSONResult(stdout, result)
	return 0
}
