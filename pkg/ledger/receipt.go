package ledger

// Receipt is the consensus outcome of a transaction. Entity-specific fields
// (created IDs, sequence numbers and so on) are kept undecoded in Raw, the
// codec that produced the receipt knows how to interpret them.
type Receipt struct {
	Status        Status
	TransactionID *TransactionID
	Children      []Receipt
	Duplicates    []Receipt
	Raw           []byte
}

// NodeAddress is one entry of the network address book.
type NodeAddress struct {
	NodeAccountID AccountID
	// Endpoints contains "host:port" pairs.
	Endpoints   []string
	Description string
}
