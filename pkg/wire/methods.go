package wire

// gRPC methods used by the engine itself. Entity-specific requests carry
// their own method names.
const (
	MethodGetTransactionReceipts = "/proto.CryptoService/getTransactionReceipts"
	MethodCryptoGetBalance       = "/proto.CryptoService/cryptoGetBalance"
	MethodSubscribeTopic         = "/com.hedera.mirror.api.proto.ConsensusService/subscribeTopic"
	MethodGetNodes               = "/com.hedera.mirror.api.proto.NetworkService/getNodes"
)
