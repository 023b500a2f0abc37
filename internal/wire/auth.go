package wire

import (
	"bytes"
	"crypto/sha1"
)

// HashPassword computes hash1 = SHA1(password) and hash2 = SHA1(hash1), the
// two values stored/used by the mysql_native_password scheme.
// Only hash2 is meant to be persisted.
func HashPassword(password []byte) (hash1, hash2 [sha1.Size]byte) {
	hash1 = sha1.Sum(password)
	hash2 = sha1.Sum(hash1[:])
	return hash1, hash2
}

// ScrambleToken computes the wire token a client sends: the XOR of hash1
// with SHA1(scramble ‖ hash2).
func ScrambleToken(scramble []byte, hash1, hash2 [sha1.Size]byte) []byte {
	mixed := sha1.Sum(append(append([]byte{}, scramble...), hash2[:]...))
	token := make([]byte, sha1.Size)
	for i := range token {
		token[i] = hash1[i] ^ mixed[i]
	}
	return token
}

// VerifyToken checks a wire-received token against the stored hash2 and the
// scramble used for this handshake: the proxy recomputes
// hash1 = token XOR SHA1(scramble ‖ storedHash2), then checks
// SHA1(hash1) == storedHash2.
func VerifyToken(token, scramble []byte, storedHash2 [sha1.Size]byte) bool {
	if len(token) != sha1.Size {
		return false
	}
	mixed := sha1.Sum(append(append([]byte{}, scramble...), storedHash2[:]...))
	hash1 := make([]byte, sha1.Size)
	for i := range hash1 {
		hash1[i] = token[i] ^ mixed[i]
	}
	recomputed := sha1.Sum(hash1)
	return bytes.Equal(recomputed[:], storedHash2[:])
}
