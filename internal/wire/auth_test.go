package wire

import "testing"

func TestPasswordScrambleVerifyRoundTrip(t *testing.T) {
	password := []byte("s3cret")
	scramble := []byte("01234567890123456789")

	hash1, hash2 := HashPassword(password)
	token := ScrambleToken(scramble, hash1, hash2)

	if !VerifyToken(token, scramble, hash2) {
		t.Fatalf("VerifyToken rejected a correctly scrambled token")
	}
}

func TestPasswordScrambleRejectsWrongPassword(t *testing.T) {
	scramble := []byte("01234567890123456789")
	_, rightHash2 := HashPassword([]byte("correct"))
	wrongHash1, wrongHash2 := HashPassword([]byte("wrong"))
	token := ScrambleToken(scramble, wrongHash1, wrongHash2)

	if VerifyToken(token, scramble, rightHash2) {
		t.Fatalf("VerifyToken accepted a token scrambled against the wrong password")
	}
}
