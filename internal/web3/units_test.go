package web3

import (
	"math/big"
	"testing"
)

func TestFormatEther(t *testing.T) {
	cases := []struct {
		wei  *big.Int
		want string
	}{
		{nil, "0"},
		{big.NewInt(0), "0"},
		{big.NewInt(1_000_000_000_000_000_000), "1"},
		{big.NewInt(10_000_000_000_000_000), "0.01"},
		{big.NewInt(300_000_000_000_000), "0.0003"},
		{big.NewInt(1_500_000_000_000_000_000), "1.5"},
	}
	for _, tc := range cases {
		if got := FormatEther(tc.wei); got != tc.want {
			t.Errorf("FormatEther(%v) = %q, want %q", tc.wei, got, tc.want)
		}
	}
}
