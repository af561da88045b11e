package money

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int64
		ok   bool
	}{
		{"plain", "115", 11500, true},
		{"two decimals", "123.45", 12345, true},
		{"one decimal", "7.5", 750, true},
		{"trailing zeros", "1.230", 123, true},
		{"zero", "0", 0, true},
		{"negative", "-3.10", -310, true},
		{"spaces", "  42.00 ", 4200, true},
		{"three decimals", "1.234", 0, false},
		{"not a number", "abc", 0, false},
		{"empty", "", 0, false},
		{"out of range", "99999999.00", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.ok && err != nil {
				t.Fatalf("err=%v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
			if tc.ok && got != tc.want {
				t.Fatalf("got=%d want=%d", got, tc.want)
			}
		})
	}
}

func TestFormatCents(t *testing.T) {
	if got := FormatCents(12345); got != "123.45" {
		t.Fatalf("got=%q", got)
	}
	if got := FormatCents(0); got != "0.00" {
		t.Fatalf("got=%q", got)
	}
	if got := FormatCents(-310); got != "-3.10" {
		t.Fatalf("got=%q", got)
	}
	if got := FormatCents(5); got != "0.05" {
		t.Fatalf("got=%q", got)
	}
}

func TestMulPercentRoundHalfUp(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		if got := MulPercentRoundHalfUp(50000, 10); got != 5000 {
			t.Fatalf("got=%d", got)
		}
	})

	t.Run("half up", func(t *testing.T) {
		if got := MulPercentRoundHalfUp(17, 3); got != 1 {
			t.Fatalf("got=%d", got)
		}
		if got := MulPercentRoundHalfUp(16, 3); got != 0 {
			t.Fatalf("got=%d", got)
		}
	})
}

func TestDivRoundHalfUp(t *testing.T) {
	if got := DivRoundHalfUp(100, 3); got != 33 {
		t.Fatalf("got=%d", got)
	}
	if got := DivRoundHalfUp(101, 2); got != 51 {
		t.Fatalf("got=%d", got)
	}
	if got := DivRoundHalfUp(0, 7); got != 0 {
		t.Fatalf("got=%d", got)
	}
}

func TestProRate(t *testing.T) {
	// 13th-month style pro-ration: $600.00 for 7 of 12 months.
	if got := ProRate(60000, 7, 12); got != 35000 {
		t.Fatalf("got=%d", got)
	}
	if got := ProRate(60000, 12, 12); got != 60000 {
		t.Fatalf("got=%d", got)
	}
	if got := ProRate(60000, 0, 12); got != 0 {
		t.Fatalf("got=%d", got)
	}
}
