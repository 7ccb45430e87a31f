package wallet

import (
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/ids"
)

// Wallet holds the validator's ed25519 signing key. Its Address is the
// committee identity the Primary signs batch headers and signatures under.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the validator's committee address (first 20 bytes of
// SHA-256(pubkey), hex-encoded).
func (w *Wallet) Address() ids.Address {
	return ids.Address(w.pub.Address())
}
