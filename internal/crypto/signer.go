package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	domainTypeHash = ethcrypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	authDomainTypeHash = ethcrypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)"))
	clobAuthTypeHash = ethcrypto.Keccak256([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)"))
	orderTypeHash = ethcrypto.Keccak256([]byte(
		"Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))
)

const clobAuthMessage = "This message attests that I control the given wallet"

// Order sides as encoded in the signed struct.
const (
	OrderSideBuy  = 0
	OrderSideSell = 1
)

// SignedOrder is the CLOB order struct. Big numbers are decimal strings.
type SignedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature,omitempty"`
}

// Signer signs CLOB orders and auth messages with a secp256k1 wallet key.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  int64
	exchange common.Address
}

// NewSigner builds a signer for chainID against the exchange contract.
func NewSigner(keyHex string, chainID int64, exchange string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		key:      key,
		address:  ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		exchange: common.HexToAddress(exchange),
	}, nil
}

// Address is the wallet address.
func (s *Signer) Address() string { return s.address.Hex() }

// SignOrder fills in o.Signature.
func (s *Signer) SignOrder(o *SignedOrder) error {
	nums, err := parseUints(
		[2]string{"salt", o.Salt}, [2]string{"tokenId", o.TokenID},
		[2]string{"makerAmount", o.MakerAmount}, [2]string{"takerAmount", o.TakerAmount},
		[2]string{"expiration", o.Expiration}, [2]string{"nonce", o.Nonce},
		[2]string{"feeRateBps", o.FeeRateBps},
	)
	if err != nil {
		return err
	}
	structHash := ethcrypto.Keccak256(
		orderTypeHash,
		word(nums[0]),
		addrWord(o.Maker), addrWord(o.Signer), addrWord(o.Taker),
		word(nums[1]), word(nums[2]), word(nums[3]), word(nums[4]), word(nums[5]), word(nums[6]),
		word(big.NewInt(int64(o.Side))),
		word(big.NewInt(int64(o.SignatureType))),
	)
	domainSep := ethcrypto.Keccak256(
		domainTypeHash,
		ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		word(big.NewInt(s.chainID)),
		common.LeftPadBytes(s.exchange.Bytes(), 32),
	)
	sig, err := s.sign(domainSep, structHash)
	if err != nil {
		return err
	}
	o.Signature = sig
	return nil
}

func parseUints(fields ...[2]string) ([]*big.Int, error) {
	out := make([]*big.Int, len(fields))
	for i, f := range fields {
		n, ok := new(big.Int).SetString(f[1], 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("crypto: bad %s %q", f[0], f[1])
		}
		out[i] = n
	}
	return out, nil
}

// SignAuth signs the L1 ClobAuth message used to derive API credentials.
func (s *Signer) SignAuth(timestamp string, nonce int64) (string, error) {
	domainSep := ethcrypto.Keccak256(
		authDomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		word(big.NewInt(s.chainID)),
	)
	structHash := ethcrypto.Keccak256(
		clobAuthTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		ethcrypto.Keccak256([]byte(timestamp)),
		word(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(clobAuthMessage)),
	)
	return s.sign(domainSep, structHash)
}

func (s *Signer) sign(domainSep, structHash []byte) (string, error) {
	digest := ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

func word(n *big.Int) []byte { return common.LeftPadBytes(n.Bytes(), 32) }

func addrWord(a string) []byte { return common.LeftPadBytes(common.HexToAddress(a).Bytes(), 32) }
