package chain

import "testing"

func TestPositionLess(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b Position
		want bool
	}{
		{name: "earlier block", a: Position{Block: 10, LogIndex: 9}, b: Position{Block: 11, LogIndex: 0}, want: true},
		{name: "same block earlier log", a: Position{Block: 10, LogIndex: 1}, b: Position{Block: 10, LogIndex: 2}, want: true},
		{name: "equal", a: Position{Block: 10, LogIndex: 1}, b: Position{Block: 10, LogIndex: 1}, want: false},
		{name: "later block", a: Position{Block: 12, LogIndex: 0}, b: Position{Block: 10, LogIndex: 5}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Less(tc.b); got != tc.want {
				t.Fatalf("Less(%+v, %+v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestKindsOrderCreationsBeforeFacts(t *testing.T) {
	t.Parallel()

	kinds := Kinds()
	index := make(map[Kind]int, len(kinds))
	for i, k := range kinds {
		index[k] = i
	}
	if index[KindProductCreated] > index[KindBatchCreated] {
		t.Fatal("product creation must project before batch creation")
	}
	if index[KindBatchCreated] > index[KindBatchTransferred] {
		t.Fatal("batch creation must project before transfers")
	}
	if index[KindBatchRecalled] != len(kinds)-1 {
		t.Fatal("recalls must project last within a range")
	}
}

func TestEventBatchID(t *testing.T) {
	t.Parallel()

	evt := Event{Kind: KindBatchTransferred, BatchTransferred: &BatchTransferred{BatchID: 7}}
	if evt.BatchID() != 7 {
		t.Fatalf("batch id = %d, want 7", evt.BatchID())
	}

	product := Event{Kind: KindProductCreated, ProductCreated: &ProductCreated{ProductID: 3}}
	if product.BatchID() != 0 {
		t.Fatalf("product events are not batch scoped, got %d", product.BatchID())
	}
}
