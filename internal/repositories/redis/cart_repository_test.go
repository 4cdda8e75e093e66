package redis

import "testing"

func TestGenerateKey(t *testing.T) {
	if got := GenerateKey("cart", "alice"); got != "foodcart:cart:alice" {
		t.Errorf("GenerateKey = %q", got)
	}
}
