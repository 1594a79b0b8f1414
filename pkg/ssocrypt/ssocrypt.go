// Package ssocrypt decrypts the CRM's SSO session payloads. The provider
// encrypts a JSON identity blob with a passphrase-derived AES key in the
// OpenSSL "Salted__" envelope format, so decryption has to reproduce that
// exact key derivation.
package ssocrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // the envelope format mandates MD5 for key derivation
	"encoding/base64"
	"encoding/json"

	"github.com/rotisserie/eris"
)

const saltedPrefix = "Salted__"

// Identity is the decrypted SSO session payload. The pipeline only trusts
// the location and contact identifiers; everything else is informational.
type Identity struct {
	UserID     string `json:"userId"`
	CompanyID  string `json:"companyId"`
	LocationID string `json:"locationId"`
	ContactID  string `json:"contactId,omitempty"`
	UserName   string `json:"userName,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Type       string `json:"type,omitempty"`
}

// DecryptIdentity decrypts an SSO payload and unmarshals the identity JSON.
func DecryptIdentity(encoded, secret string) (*Identity, error) {
	plain, err := Decrypt(encoded, secret)
	if err != nil {
		return nil, err
	}

	var identity Identity
	if err := json.Unmarshal(plain, &identity); err != nil {
		return nil, eris.Wrap(err, "ssocrypt: unmarshal identity")
	}

	return &identity, nil
}

// Decrypt opens a base64 "Salted__" payload with the shared secret and
// returns the plaintext.
func Decrypt(encoded, secret string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, eris.Wrap(err, "ssocrypt: decode payload")
	}

	if len(raw) < 16 || string(raw[:8]) != saltedPrefix {
		return nil, eris.New("ssocrypt: missing salt header")
	}
	salt := raw[8:16]
	ciphertext := raw[16:]

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, eris.New("ssocrypt: ciphertext not block aligned")
	}

	key, iv := deriveKeyIV([]byte(secret), salt, 32, aes.BlockSize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, eris.Wrap(err, "ssocrypt: init cipher")
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return stripPadding(plain)
}

// deriveKeyIV implements the OpenSSL EVP_BytesToKey derivation with MD5:
// each round hashes the previous digest followed by the secret and the salt,
// and the concatenated digests supply key material, then IV material.
func deriveKeyIV(secret, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	var material []byte
	var prev []byte
	for len(material) < keyLen+ivLen {
		h := md5.New() //nolint:gosec // see package comment
		h.Write(prev)
		h.Write(secret)
		h.Write(salt)
		prev = h.Sum(nil)
		material = append(material, prev...)
	}
	return material[:keyLen], material[keyLen : keyLen+ivLen]
}

// stripPadding removes PKCS#7 padding and rejects malformed pad bytes,
// which is how a wrong secret usually shows up.
func stripPadding(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, eris.New("ssocrypt: empty plaintext")
	}
	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plain) {
		return nil, eris.New("ssocrypt: invalid padding")
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, eris.New("ssocrypt: invalid padding")
		}
	}
	return plain[:len(plain)-pad], nil
}
