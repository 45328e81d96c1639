// Package units converts between ether amounts written as decimals and wei.
package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of wei decimal places in one ether.
const EtherDecimals = 18

var (
	// ErrNegativeAmount is returned for amounts below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrFractionalWei is returned when an ether amount has more than 18 decimals.
	ErrFractionalWei = errors.New("amount has more precision than one wei")
)

// ParseEther parses a decimal ether amount such as "0.05" into wei.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse ether amount %q: %w", s, err)
	}
	return toWei(d, EtherDecimals)
}

// ParseWei parses an integer wei amount.
func ParseWei(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse wei amount %q: %w", s, err)
	}
	return toWei(d, 0)
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals).String()
}

func toWei(d decimal.Decimal, shift int32) (*big.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	wei := d.Shift(shift)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, ErrFractionalWei
	}
	return wei.BigInt(), nil
}
