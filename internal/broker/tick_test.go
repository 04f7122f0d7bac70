package broker

import "testing"

func TestTickSizeBands(t *testing.T) {
	cases := []struct {
		price int64
		want  int64
	}{
		{999, 1},
		{1_000, 5},
		{4_999, 5},
		{5_000, 10},
		{9_990, 10},
		{10_000, 50},
		{49_950, 50},
		{50_000, 100},
		{99_900, 100},
		{100_000, 500},
		{499_500, 500},
		{500_000, 1_000},
		{1_234_000, 1_000},
	}
	for _, tc := range cases {
		if got := TickSize(tc.price); got != tc.want {
			t.Errorf("TickSize(%d) = %d, want %d", tc.price, got, tc.want)
		}
	}
}

func TestAlignToTick(t *testing.T) {
	cases := []struct {
		price int64
		want  int64
	}{
		{0, 0},
		{-5, 0},
		{999, 999},
		{1_003, 1_000},
		{182_350, 182_000},
		{70_049, 70_000},
		{500_500, 500_000},
	}
	for _, tc := range cases {
		if got := AlignToTick(tc.price); got != tc.want {
			t.Errorf("AlignToTick(%d) = %d, want %d", tc.price, got, tc.want)
		}
	}
}
