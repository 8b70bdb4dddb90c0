package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"icsforms/core/utils"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters; fixed for the life of a hash. Changing them would
// invalidate stored credentials without a rehash-on-login pass.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

type PasswordHash struct {
	Hash string
	Salt string
}

func HashPassword(password, pepper string) (PasswordHash, error) {
	salt, err := utils.RandBytes(saltLen)
	if err != nil {
		return PasswordHash{}, err
	}
	key := argon2.IDKey([]byte(password+pepper), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return PasswordHash{Hash: hex.EncodeToString(key), Salt: hex.EncodeToString(salt)}, nil
}

func MustHashPassword(password, pepper string) PasswordHash {
	ph, err := HashPassword(password, pepper)
	if err != nil {
		panic(err)
	}
	return ph
}

func ParsePasswordHash(hash, salt string) (PasswordHash, error) {
	if strings.TrimSpace(hash) == "" || strings.TrimSpace(salt) == "" {
		return PasswordHash{}, errors.New("empty password hash")
	}
	return PasswordHash{Hash: hash, Salt: salt}, nil
}

func VerifyPassword(password, pepper string, ph PasswordHash) (bool, error) {
	salt, err := hex.DecodeString(ph.Salt)
	if err != nil {
		return false, err
	}
	want, err := hex.DecodeString(ph.Hash)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password+pepper), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
