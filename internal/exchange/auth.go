package exchange

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"

	"hl-copytrader/internal/config"
	"hl-copytrader/pkg/types"
)

// signingChainID and signingVerifyingContract are fixed by the exchange's
// signing domain regardless of the real network the action is submitted to.
var (
	signingChainID           = big.NewInt(1337)
	signingVerifyingContract = common.Address{}
)

// Auth signs exchange actions under Hyperliquid's wallet-agent scheme: every
// action is hashed (msgpack + nonce + vault flag), wrapped in a phantom
// "Agent" typed-data message, and signed with the follower's private key.
// There is no separate L2/HMAC layer — every mutating call is signed this
// way, directly with the wallet.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	source     string // "a" for mainnet, "b" for testnet
}

// NewAuth creates an Auth instance from config. The private key belongs to
// the follower account — the target account is only ever read, never
// signed for.
func NewAuth(cfg config.Config) (*Auth, error) {
	keyHex := strings.TrimPrefix(cfg.Hyperliquid.FollowerPrivateKey, "0x")

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse follower private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	if configured := cfg.Hyperliquid.FollowerAddress; configured != "" {
		if !strings.EqualFold(configured, address.Hex()) {
			return nil, fmt.Errorf("follower private key derives %s, does not match FOLLOWER_WALLET_ADDRESS %s", address.Hex(), configured)
		}
	}

	source := "a"
	if cfg.Hyperliquid.IsTestnet {
		source = "b"
	}

	return &Auth{
		privateKey: privateKey,
		address:    address,
		source:     source,
	}, nil
}

// Address returns the follower's signing address.
func (a *Auth) Address() common.Address {
	return a.address
}

// actionHash computes H = keccak(msgpack(action) || nonce_be8 || vault_flag
// || vault_addr_bytes?), matching the exchange's connectionId derivation
// exactly.
func actionHash(action any, nonce int64, vaultAddress string) ([32]byte, error) {
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return [32]byte{}, fmt.Errorf("msgpack action: %w", err)
	}

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	packed = append(packed, nonceBytes[:]...)

	if vaultAddress == "" {
		packed = append(packed, 0x00)
	} else {
		packed = append(packed, 0x01)
		packed = append(packed, common.HexToAddress(vaultAddress).Bytes()...)
	}

	return [32]byte(crypto.Keccak256(packed)), nil
}

// SignAction signs an exchange action and returns the full envelope ready
// to POST, along with the nonce used (callers that need it for logging or
// idempotency checkpointing can read it back off the envelope).
func (a *Auth) SignAction(action any, nonce int64, vaultAddress string) (types.SignedEnvelope, error) {
	connectionID, err := actionHash(action, nonce, vaultAddress)
	if err != nil {
		return types.SignedEnvelope{}, err
	}

	sig, err := a.signAgent(connectionID)
	if err != nil {
		return types.SignedEnvelope{}, fmt.Errorf("sign agent: %w", err)
	}

	var vaultPtr *string
	if vaultAddress != "" {
		vaultPtr = &vaultAddress
	}

	return types.SignedEnvelope{
		Action:       action,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: vaultPtr,
	}, nil
}

// signAgent builds and signs the phantom Agent typed-data message the
// exchange expects: domain {name:"Exchange", version:"1", chainId:1337,
// verifyingContract: zero address}, primary type Agent{source, connectionId}.
func (a *Auth) signAgent(connectionID [32]byte) (types.Signature, error) {
	domain := apitypes.TypedDataDomain{
		Name:              "Exchange",
		Version:           "1",
		ChainId:           (*ethmath.HexOrDecimal256)(new(big.Int).Set(signingChainID)),
		VerifyingContract: signingVerifyingContract.Hex(),
	}

	typesDef := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Agent": {
			{Name: "source", Type: "string"},
			{Name: "connectionId", Type: "bytes32"},
		},
	}

	message := apitypes.TypedDataMessage{
		"source":       a.source,
		"connectionId": connectionID[:],
	}

	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: "Agent",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return types.Signature{}, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return types.Signature{}, fmt.Errorf("sign typed data: %w", err)
	}

	v := int(sig[64])
	if v < 27 {
		v += 27
	}

	return types.Signature{
		R: "0x" + common.Bytes2Hex(sig[:32]),
		S: "0x" + common.Bytes2Hex(sig[32:64]),
		V: v,
	}, nil
}

// VerifyConnectionID recomputes the action hash for a captured action and
// compares it against the connectionId that was signed at submission time.
// Used by the round-trip signature test (SPEC_FULL.md §8).
func VerifyConnectionID(action any, nonce int64, vaultAddress string, want [32]byte) (bool, error) {
	got, err := actionHash(action, nonce, vaultAddress)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

