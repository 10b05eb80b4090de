// Package groupid encodes group identities and derives the V2 identity of a
// legacy V1 group.
package groupid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	v1Prefix = "__textsecure_group__!"
	v2Prefix = "__signal_group__v2__!"

	V1Size        = 16
	V2Size        = 32
	MasterKeySize = 32

	migrationInfo  = "GV2 Migration"
	identifierInfo = "GV2 Group Identifier"
)

// ID is the encoded group identity stored in the group table.
type ID string

// V1 encodes a legacy group id.
func V1(raw []byte) ID {
	return ID(v1Prefix + hex.EncodeToString(raw))
}

// V2 encodes a revisioned group id.
func V2(raw []byte) ID {
	return ID(v2Prefix + hex.EncodeToString(raw))
}

// Parse validates an encoded id.
func Parse(s string) (ID, error) {
	id := ID(s)
	raw, err := id.Raw()
	if err != nil {
		return "", err
	}
	switch {
	case id.IsV1() && len(raw) != V1Size:
		return "", fmt.Errorf("v1 group id must be %d bytes, got %d", V1Size, len(raw))
	case id.IsV2() && len(raw) != V2Size:
		return "", fmt.Errorf("v2 group id must be %d bytes, got %d", V2Size, len(raw))
	}
	return id, nil
}

func (id ID) IsV1() bool { return strings.HasPrefix(string(id), v1Prefix) }

func (id ID) IsV2() bool { return strings.HasPrefix(string(id), v2Prefix) }

func (id ID) String() string { return string(id) }

// Raw returns the decoded id bytes.
func (id ID) Raw() ([]byte, error) {
	var body string
	switch {
	case id.IsV1():
		body = strings.TrimPrefix(string(id), v1Prefix)
	case id.IsV2():
		body = strings.TrimPrefix(string(id), v2Prefix)
	default:
		return nil, fmt.Errorf("unknown group id format %q", string(id))
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode group id: %w", err)
	}
	return raw, nil
}

// MigrationMasterKey derives the V2 master key of a V1 group. It is a pure
// function of the V1 id, so every member derives the same key independently.
func MigrationMasterKey(v1 ID) ([]byte, error) {
	if !v1.IsV1() {
		return nil, fmt.Errorf("not a v1 group id: %q", string(v1))
	}
	raw, err := v1.Raw()
	if err != nil {
		return nil, err
	}
	return expand(raw, migrationInfo, MasterKeySize)
}

// FromMasterKey derives the V2 id addressed by a master key.
func FromMasterKey(masterKey []byte) (ID, error) {
	if len(masterKey) != MasterKeySize {
		return "", fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	raw, err := expand(masterKey, identifierInfo, V2Size)
	if err != nil {
		return "", err
	}
	return V2(raw), nil
}

// DeriveV2 returns the V2 id and master key a V1 group migrates to.
func DeriveV2(v1 ID) (ID, []byte, error) {
	mk, err := MigrationMasterKey(v1)
	if err != nil {
		return "", nil, err
	}
	v2, err := FromMasterKey(mk)
	if err != nil {
		return "", nil, err
	}
	return v2, mk, nil
}

func expand(secret []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
