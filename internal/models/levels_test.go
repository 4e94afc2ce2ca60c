package models

import "testing"

func TestIDString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{" PO-7 ", "PO-7"},
		{float64(42), "42"},
		{42.5, "42.5"},
		{int64(9), "9"},
		{"Sup-Gru\u0308n", "Sup-Gr\u00fcn"},
	}
	for _, tc := range cases {
		if got := IDString(tc.in); got != tc.want {
			t.Fatalf("IDString(%#v) = %q want %q", tc.in, got, tc.want)
		}
	}
}
