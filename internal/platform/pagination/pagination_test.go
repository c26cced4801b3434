package pagination

import "testing"

func TestNormalizeAppliesDefaultsAndCaps(t *testing.T) {
	t.Parallel()

	cfg := Config{DefaultLimit: 20, MaxLimit: 100}

	cases := []struct {
		name      string
		page      int
		limit     int
		wantPage  int
		wantLimit int
	}{
		{name: "zero values", page: 0, limit: 0, wantPage: 1, wantLimit: 20},
		{name: "negative page", page: -3, limit: 10, wantPage: 1, wantLimit: 10},
		{name: "limit above max", page: 2, limit: 500, wantPage: 2, wantLimit: 100},
		{name: "in range", page: 4, limit: 25, wantPage: 4, wantLimit: 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.page, tc.limit, cfg)
			if got.Number != tc.wantPage || got.Limit != tc.wantLimit {
				t.Fatalf("Normalize(%d, %d) = %+v, want page %d limit %d",
					tc.page, tc.limit, got, tc.wantPage, tc.wantLimit)
			}
		})
	}
}

func TestOffset(t *testing.T) {
	t.Parallel()

	p := Page{Number: 3, Limit: 20}
	if p.Offset() != 40 {
		t.Fatalf("offset = %d, want 40", p.Offset())
	}
}

func TestNewMetaComputesPageCount(t *testing.T) {
	t.Parallel()

	meta := NewMeta(Page{Number: 1, Limit: 20}, 41)
	if meta.Pages != 3 {
		t.Fatalf("pages = %d, want 3", meta.Pages)
	}
	if meta.Total != 41 {
		t.Fatalf("total = %d, want 41", meta.Total)
	}

	empty := NewMeta(Page{Number: 1, Limit: 20}, 0)
	if empty.Pages != 0 {
		t.Fatalf("pages for empty set = %d, want 0", empty.Pages)
	}
}
