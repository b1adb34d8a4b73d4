package ledger

// Signer is an external signing capability, key formats are up to the
// implementation.
type Signer interface {
	// PublicKey returns the encoded public key matching the signatures.
	PublicKey() []byte
	// Sign signs the given message.
	Sign(message []byte) ([]byte, error)
}

// Operator is the account paying for transactions and queries along with its
// signer.
type Operator struct {
	AccountID AccountID
	Signer    Signer
}
