package interfaces

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Handle is an opaque 32-byte reference to a ciphertext held by the
// confidential engine. It is stored on the ledger as bytes32.
type Handle [32]byte

// NewHandleFromBytes creates a handle from a 32-byte slice.
func NewHandleFromBytes(source []byte) (Handle, error) {
	if len(source) != 32 {
		return Handle{}, errors.New("invalid handle conversion from bytes: incorrect length")
	}

	var h Handle
	copy(h[:], source)
	return h, nil
}

// NewHandleFromHex parses a 64-character hex handle, with or without 0x prefix.
func NewHandleFromHex(source string) (Handle, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return Handle{}, errors.New("invalid handle length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewHandleFromBytes(raw)
}

// String returns the 0x-prefixed hex representation.
func (h Handle) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Bytes returns the raw 32 bytes.
func (h Handle) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// MarshalText implements encoding.TextMarshaler so handles serialize as hex.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := NewHandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseAddress strictly parses a 40-character hex address, with or without
// 0x prefix. common.HexToAddress silently accepts garbage, this does not.
func ParseAddress(addr string) (common.Address, error) {
	clean := strings.TrimPrefix(addr, "0x")
	if len(clean) != 40 {
		return common.Address{}, errors.New("invalid address length: hex string must be 40 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return common.BytesToAddress(raw), nil
}

// FieldKind identifies which registration field a ciphertext carries.
type FieldKind uint8

const (
	// FieldName is the athlete's name, an encrypted byte string.
	FieldName FieldKind = iota + 1
	// FieldAge is the athlete's age, an encrypted 8-bit integer.
	FieldAge
	// FieldContact is the athlete's contact number, an encrypted 64-bit integer.
	FieldContact
)

// String returns the field name.
func (k FieldKind) String() string {
	switch k {
	case FieldName:
		return "name"
	case FieldAge:
		return "age"
	case FieldContact:
		return "contact"
	default:
		return "unknown"
	}
}

// ParseFieldKind is the inverse of FieldKind.String.
func ParseFieldKind(s string) (FieldKind, error) {
	switch s {
	case "name":
		return FieldName, nil
	case "age":
		return FieldAge, nil
	case "contact":
		return FieldContact, nil
	default:
		return 0, fmt.Errorf("unknown field kind: %q", s)
	}
}

// Field is a plaintext value tagged with its kind, ready for encryption.
type Field struct {
	Kind  FieldKind
	Value []byte
}

// UintField encodes an integer field as 8 big-endian bytes.
func UintField(kind FieldKind, v uint64) Field {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return Field{Kind: kind, Value: buf[:]}
}

// StringField encodes a string field as raw bytes.
func StringField(kind FieldKind, v string) Field {
	return Field{Kind: kind, Value: []byte(v)}
}

// DecodeUint decodes a big-endian integer of up to 8 bytes.
func DecodeUint(raw []byte) (uint64, error) {
	if len(raw) > 8 {
		return 0, fmt.Errorf("integer plaintext too long: %d bytes", len(raw))
	}
	var buf [8]byte
	copy(buf[8-len(raw):], raw)
	return binary.BigEndian.Uint64(buf[:]), nil
}

// EncryptTarget binds a ciphertext to the contract that will consume it and
// the account allowed to decrypt it.
type EncryptTarget struct {
	Contract common.Address
	Owner    common.Address
}

// AthleteHandles are the ciphertext handles of one registration.
type AthleteHandles struct {
	Name    Handle `json:"name"`
	Age     Handle `json:"age"`
	Contact Handle `json:"contact"`
}

// All returns the handles in name, age, contact order.
func (h AthleteHandles) All() []Handle {
	return []Handle{h.Name, h.Age, h.Contact}
}

// EncryptedAthleteRecord is a registration as stored on the ledger.
type EncryptedAthleteRecord struct {
	Handles               AthleteHandles `json:"handles"`
	Category              SportCategory  `json:"category"`
	RegistrationTimestamp uint64         `json:"registration_timestamp"`
	Owner                 common.Address `json:"owner"`
}

// ClearAthleteRecord is a decrypted registration. It only lives in memory.
type ClearAthleteRecord struct {
	Name    string `json:"name"`
	Age     uint64 `json:"age"`
	Contact uint64 `json:"contact"`
}

// SportCategory is the non-confidential category of a registration.
type SportCategory uint8

const (
	Individual SportCategory = iota
	Team
	Endurance
	Combat
	Other
)

type categoryInfo struct {
	name   string
	minAge uint64
}

var categories = map[SportCategory]categoryInfo{
	Individual: {"Individual", 8},
	Team:       {"Team", 10},
	Endurance:  {"Endurance", 12},
	Combat:     {"Combat", 14},
	Other:      {"Other", 8},
}

// AllCategories lists the categories in ledger order.
func AllCategories() []SportCategory {
	return []SportCategory{Individual, Team, Endurance, Combat, Other}
}

// Valid reports whether c is a known category.
func (c SportCategory) Valid() bool {
	_, ok := categories[c]
	return ok
}

// String returns the display name of the category.
func (c SportCategory) String() string {
	if info, ok := categories[c]; ok {
		return info.name
	}
	return "unknown"
}

// MinAge returns the minimum athlete age of the category.
func (c SportCategory) MinAge() uint64 {
	return categories[c].minAge
}

// ParseSportCategory accepts a category name, case-insensitively.
func ParseSportCategory(s string) (SportCategory, error) {
	for c, info := range categories {
		if strings.EqualFold(info.name, s) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown sport category: %q", s)
}
