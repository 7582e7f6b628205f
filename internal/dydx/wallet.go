package dydx

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	bip39 "github.com/cosmos/go-bip39"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // cosmos address format
)

const (
	bech32Prefix = "dydx"
	// Cosmos SDK coin type, path m/44'/118'/0'/0/0.
	derivationCoinType = 118
)

// Wallet holds the operator signing key derived from the configured mnemonic.
type Wallet struct {
	privKey *btcec.PrivateKey
	address string
}

func NewWallet(mnemonic string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + derivationCoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	}
	key := master
	for _, step := range path {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("derive path step %d: %w", step, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}

	addr, err := addressFromPubKey(priv.PubKey().SerializeCompressed())
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}

	return &Wallet{privKey: priv, address: addr}, nil
}

// Address returns the operator's bech32 account address.
func (w *Wallet) Address() string {
	return w.address
}

// PubKey returns the 33-byte compressed secp256k1 public key.
func (w *Wallet) PubKey() []byte {
	return w.privKey.PubKey().SerializeCompressed()
}

// Sign produces a 64-byte R||S signature over sha256(msg).
func (w *Wallet) Sign(msg []byte) []byte {
	digest := sha256.Sum256(msg)
	// SignCompact yields [recovery || R || S] with canonical low-S values.
	sig := ecdsa.SignCompact(w.privKey, digest[:], false)
	return sig[1:]
}

func addressFromPubKey(compressed []byte) (string, error) {
	sha := sha256.Sum256(compressed)
	hasher := ripemd160.New()
	hasher.Write(sha[:])
	raw := hasher.Sum(nil)

	converted, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	return bech32.Encode(bech32Prefix, converted)
}
