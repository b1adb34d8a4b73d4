package ledger

// Status is a ledger response code as returned in pre-check answers and
// receipts. The codec maps wire codes to these names, so Status values match
// the names of the ledger's response code enumeration.
type Status string

// Statuses the engine reacts to. Any other value returned by the codec is
// still a valid Status, it's just treated as a fatal one.
const (
	StatusOK                            Status = "OK"
	StatusInvalidTransaction            Status = "INVALID_TRANSACTION"
	StatusPayerAccountNotFound          Status = "PAYER_ACCOUNT_NOT_FOUND"
	StatusInvalidNodeAccount            Status = "INVALID_NODE_ACCOUNT"
	StatusTransactionExpired            Status = "TRANSACTION_EXPIRED"
	StatusInvalidTransactionStart       Status = "INVALID_TRANSACTION_START"
	StatusInvalidSignature              Status = "INVALID_SIGNATURE"
	StatusInsufficientTxFee             Status = "INSUFFICIENT_TX_FEE"
	StatusInsufficientPayerBalance      Status = "INSUFFICIENT_PAYER_BALANCE"
	StatusDuplicateTransaction          Status = "DUPLICATE_TRANSACTION"
	StatusBusy                          Status = "BUSY"
	StatusNotSupported                  Status = "NOT_SUPPORTED"
	StatusInvalidTransactionID          Status = "INVALID_TRANSACTION_ID"
	StatusReceiptNotFound               Status = "RECEIPT_NOT_FOUND"
	StatusRecordNotFound                Status = "RECORD_NOT_FOUND"
	StatusUnknown                       Status = "UNKNOWN"
	StatusSuccess                       Status = "SUCCESS"
	StatusPlatformTransactionNotCreated Status = "PLATFORM_TRANSACTION_NOT_CREATED"
	StatusPlatformNotActive             Status = "PLATFORM_NOT_ACTIVE"
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	return string(s)
}

// IsBusy reports whether the node asks to come back later.
func (s Status) IsBusy() bool {
	return s == StatusBusy || s == StatusPlatformNotActive
}
