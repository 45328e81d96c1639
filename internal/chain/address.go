package chain

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress is returned when a string is not a 0x-prefixed 20-byte hex address.
var ErrInvalidAddress = errors.New("invalid address")

// AddressLength is the size of an account address in bytes.
const AddressLength = 20

// Address identifies an account or a deployed contract.
// The zero value is the null address.
type Address [AddressLength]byte

// ZeroAddress is the null address, used to clear approvals.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed hex address. Case is ignored.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil || len(raw) != AddressLength {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[:], raw)
	return a, nil
}

// AddressFromName derives the address of a named account.
func AddressFromName(name string) Address {
	return addressFromHash([]byte("account:" + name))
}

// ContractAddress derives the address of a contract deployed by deployer at nonce.
func ContractAddress(deployer Address, nonce uint64) Address {
	buf := make([]byte, 0, AddressLength+8)
	buf = append(buf, deployer[:]...)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return addressFromHash(buf)
}

func addressFromHash(data []byte) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	sum := h.Sum(nil)
	var a Address
	copy(a[:], sum[len(sum)-AddressLength:])
	return a
}

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
