package types

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Domain identifies a chain or rollup. Names are stored as UTF-8, right-padded with zero bytes.
type Domain [32]byte

// DomainFromString encodes a domain name. Names must fit 31 bytes, so the last byte stays zero.
func DomainFromString(name string) (Domain, error) {
	var d Domain
	if name == "" || len(name) > 31 || !utf8.ValidString(name) {
		return d, fmt.Errorf("%w: %q", ErrInvalidDomain, name)
	}
	copy(d[:], name)
	return d, nil
}

// MustDomain is DomainFromString for names that are known to be valid.
func MustDomain(name string) Domain {
	d, err := DomainFromString(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the domain name, without the zero padding.
func (d Domain) Name() string {
	return string(bytes.TrimRight(d[:], "\x00"))
}

func (d Domain) IsZero() bool {
	return d == Domain{}
}

// String returns the name if the identifier holds a padded name, and hex otherwise.
func (d Domain) String() string {
	name := d.Name()
	if name != "" && utf8.ValidString(name) && !bytes.ContainsRune([]byte(name), 0) {
		return name
	}
	return hexutil.Encode(d[:])
}

func (d Domain) TerminalString() string {
	return d.String()
}

// MarshalText encodes the domain as a 0x-prefixed 32 byte hex string.
func (d Domain) MarshalText() ([]byte, error) {
	return hexutil.Bytes(d[:]).MarshalText()
}

// UnmarshalText accepts a 0x-prefixed 32 byte hex string, or a plain domain name.
func (d *Domain) UnmarshalText(text []byte) error {
	if bytes.HasPrefix(text, []byte("0x")) {
		return hexutil.UnmarshalFixedText("Domain", text, d[:])
	}
	v, err := DomainFromString(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Bytes32 carries an address in a 32 byte field, left-padded with zeroes.
type Bytes32 [32]byte

func AddressToBytes32(addr common.Address) Bytes32 {
	var b Bytes32
	copy(b[12:], addr[:])
	return b
}

// Address returns the low 20 bytes.
func (b Bytes32) Address() common.Address {
	return common.BytesToAddress(b[12:])
}

func (b Bytes32) String() string {
	return hexutil.Encode(b[:])
}

func (b Bytes32) MarshalText() ([]byte, error) {
	return hexutil.Bytes(b[:]).MarshalText()
}

func (b *Bytes32) UnmarshalText(text []byte) error {
	return hexutil.UnmarshalFixedText("Bytes32", text, b[:])
}
