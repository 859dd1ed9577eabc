package checksum

import (
	"io"
	"strings"
	"testing"
)

func TestSum_KnownDigest(t *testing.T) {
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != want {
		t.Errorf("Sum(nil) = %s", got)
	}
}

func TestHasher_MatchesSum(t *testing.T) {
	h := NewHasher()
	if _, err := io.Copy(h, strings.NewReader("hola")); err != nil {
		t.Fatal(err)
	}
	if h.Sum() != Sum([]byte("hola")) {
		t.Errorf("streamed digest %s differs from Sum", h.Sum())
	}
}
