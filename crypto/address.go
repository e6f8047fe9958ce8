package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering addresses.
type AddressPrefix string

const (
	PynPrefix AddressPrefix = "pyn"
)

// AddressLength is the number of raw bytes in an account address.
const AddressLength = 20

// Address is a 20-byte account identifier. It is comparable and can be used
// directly as a map key.
type Address [AddressLength]byte

// BytesToAddress copies the trailing 20 bytes of b into an Address. Shorter
// inputs are left padded with zeroes.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// ModuleAddress derives the deterministic custody address of an internal
// module, e.g. the fee pool or a collateral vault.
func ModuleAddress(name string) Address {
	digest := ethcrypto.Keccak256([]byte("module:" + strings.ToLower(strings.TrimSpace(name))))
	return BytesToAddress(digest[12:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		return a.Hex()
	}
	encoded, err := bech32.Encode(string(PynPrefix), conv)
	if err != nil {
		return a.Hex()
	}
	return encoded
}

// MarshalText renders the bech32 form so addresses round-trip through JSON,
// YAML and TOML documents.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts either the bech32 or the 0x-prefixed hex form.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 ("pyn1...") or hex ("0x...") address.
func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, fmt.Errorf("address must not be empty")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("invalid hex address: %w", err)
		}
		if len(raw) != AddressLength {
			return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(raw))
		}
		return BytesToAddress(raw), nil
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if AddressPrefix(prefix) != PynPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(conv))
	}
	return BytesToAddress(conv), nil
}

// MustDecodeAddress is DecodeAddress for constants and tests.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}
