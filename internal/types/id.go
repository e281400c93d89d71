package types

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// TaxIDWidth is the fixed width of the organization tax id prefix of a composite id.
	TaxIDWidth = 14
	// YearWidth is the fixed width of the acquisition year segment of a composite id.
	YearWidth = 4
)

// TenderKey is the identity triple of a tender in the registry.
type TenderKey struct {
	TaxID    string
	Year     int
	Sequence int
}

// IDError reports a malformed composite id or identity triple.
type IDError struct {
	Value   string
	Message string
}

func (e *IDError) Error() string {
	return fmt.Sprintf("invalid tender id %q: %s", e.Value, e.Message)
}

// DigitsOnly drops every non-digit rune from s.
func DigitsOnly(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// NewTenderKey builds a key from a raw tax id (punctuation allowed), year and sequence.
// The tax id is reduced to digits and left-padded with zeros to TaxIDWidth.
func NewTenderKey(rawTaxID string, year, sequence int) (TenderKey, error) {
	taxID := DigitsOnly(rawTaxID)
	if taxID == "" || len(taxID) > TaxIDWidth {
		return TenderKey{}, &IDError{Value: rawTaxID, Message: fmt.Sprintf("tax id must have 1-%d digits", TaxIDWidth)}
	}
	if year < 1000 || year > 9999 {
		return TenderKey{}, &IDError{Value: rawTaxID, Message: fmt.Sprintf("year %d is not %d digits", year, YearWidth)}
	}
	if sequence <= 0 {
		return TenderKey{}, &IDError{Value: rawTaxID, Message: fmt.Sprintf("sequence %d must be positive", sequence)}
	}
	return TenderKey{
		TaxID:    strings.Repeat("0", TaxIDWidth-len(taxID)) + taxID,
		Year:     year,
		Sequence: sequence,
	}, nil
}

// ID returns the composite id: tax id, then year, then sequence.
func (k TenderKey) ID() string {
	return fmt.Sprintf("%s%04d%d", k.TaxID, k.Year, k.Sequence)
}

// EncodeID builds the composite id for a tender.
func EncodeID(rawTaxID string, year, sequence int) (string, error) {
	key, err := NewTenderKey(rawTaxID, year, sequence)
	if err != nil {
		return "", err
	}
	return key.ID(), nil
}

// DecodeID splits a composite id into tax id (fixed width), year (fixed width) and sequence (remainder).
func DecodeID(id string) (TenderKey, error) {
	if len(id) <= TaxIDWidth+YearWidth {
		return TenderKey{}, &IDError{Value: id, Message: "too short"}
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return TenderKey{}, &IDError{Value: id, Message: "must contain only digits"}
		}
	}

	year, err := strconv.Atoi(id[TaxIDWidth : TaxIDWidth+YearWidth])
	if err != nil {
		return TenderKey{}, &IDError{Value: id, Message: "bad year"}
	}
	seq, err := strconv.Atoi(id[TaxIDWidth+YearWidth:])
	if err != nil || seq <= 0 {
		return TenderKey{}, &IDError{Value: id, Message: "bad sequence"}
	}
	return TenderKey{TaxID: id[:TaxIDWidth], Year: year, Sequence: seq}, nil
}
