package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mortgagechain/crypto"
)

const testPass = "correct horse"

func writeTestKeystore(t *testing.T) (string, *crypto.PrivateKey) {
	t.Helper()
	original := keyPassphrase
	keyPassphrase = func() (string, error) { return testPass, nil }
	t.Cleanup(func() { keyPassphrase = original })

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.keystore")
	require.NoError(t, crypto.SaveToKeystoreWithParams(path, key, testPass, crypto.LightScrypt))
	return path, key
}

func stubRPC(t *testing.T, fn func(method string, params interface{}, requireAuth bool) (json.RawMessage, error)) {
	t.Helper()
	original := rpcCall
	rpcCall = fn
	t.Cleanup(func() { rpcCall = original })
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run([]string{"launch"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Unknown command: launch")
	require.Equal(t, 1, run(nil, &stdout, &stderr))
}

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:9000", "call", "bank_balance"})
	require.NoError(t, err)
	require.Equal(t, "http://node:9000", rpcEndpoint)
	require.Equal(t, []string{"call", "bank_balance"}, rest)

	_, err = applyGlobalFlags([]string{"--rpc"})
	require.Error(t, err)
}

func TestSignProducesRecoverableSignature(t *testing.T) {
	path, key := writeTestKeystore(t)
	var digest [32]byte
	digest[0], digest[31] = 0xab, 0x01

	var stdout, stderr bytes.Buffer
	code := run([]string{"sign", "--key", path, "--digest", "0x" + hex.EncodeToString(digest[:])}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(stdout.String()), "0x"))
	require.NoError(t, err)
	signer, err := crypto.RecoverDigestSigner(digest, sig)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), signer)

	stdout.Reset()
	stderr.Reset()
	require.Equal(t, 1, run([]string{"sign", "--key", path, "--digest", "0x1234"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "32 bytes")
}

func TestAddressAndToken(t *testing.T) {
	path, key := writeTestKeystore(t)
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"address", "--key", path}, &stdout, &stderr))
	require.Equal(t, key.PubKey().Address().String(), strings.TrimSpace(stdout.String()))

	stdout.Reset()
	require.Equal(t, 0, run([]string{"token", "--key", path, "--secret", "s3cret"}, &stdout, &stderr))
	require.Len(t, strings.Split(strings.TrimSpace(stdout.String()), "."), 3)

	t.Setenv(jwtSecretEnv, "")
	stderr.Reset()
	require.Equal(t, 1, run([]string{"token", "--key", path}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "secret")
}

func TestMissingKeystore(t *testing.T) {
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "absent.keystore")
	require.Equal(t, 1, run([]string{"address", "--key", missing}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "keygen")
}

func TestCallValidatesParams(t *testing.T) {
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, error) {
		require.Equal(t, "mortgage_get", method)
		return json.RawMessage(`{"id":1,"status":"ongoing"}`), nil
	})
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run([]string{"call", "mortgage_get", "{broken"}, &stdout, &stderr))
	require.Equal(t, 0, run([]string{"call", "mortgage_get", `{"id":1}`}, &stdout, &stderr))
	require.Contains(t, stdout.String(), `"status": "ongoing"`)
}

func TestRequestSignsIdentifierAndSubmits(t *testing.T) {
	path, key := writeTestKeystore(t)
	identifier := [32]byte{0x42, 0x07}
	var submitted map[string]interface{}
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, error) {
		switch method {
		case "helper_identifier":
			require.False(t, requireAuth)
			p := params.(map[string]interface{})
			require.Equal(t, key.PubKey().Address().String(), p["borrower"])
			require.Equal(t, "190", p["amount"])
			return json.RawMessage(`{"identifier":"0x` + hex.EncodeToString(identifier[:]) + `"}`), nil
		case "helper_requestMortgage":
			require.True(t, requireAuth)
			submitted = params.(map[string]interface{})
			return json.RawMessage(`{"id":1,"status":"pending"}`), nil
		}
		t.Fatalf("unexpected method %s", method)
		return nil, nil
	})

	var stdout, stderr bytes.Buffer
	code := run([]string{"request", "--key", path, "--x", "3", "--y", "-7",
		"--amount", "190", "--dues-in", "86400", "--expires-at", "10000"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "pending")

	require.Equal(t, map[string]int64{"x": 3, "y": -7}, submitted["parcel"])
	sig, err := hex.DecodeString(strings.TrimPrefix(submitted["signature"].(string), "0x"))
	require.NoError(t, err)
	signer, err := crypto.RecoverDigestSigner(identifier, sig)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), signer)
}

func TestRequestRequiresTerms(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 1, run([]string{"request", "--key", "x", "--amount", "10"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "required")
}
