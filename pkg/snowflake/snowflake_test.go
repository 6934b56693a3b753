package snowflake

import "testing"

func TestNodeRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Fatal("expected error for negative node id")
	}
	if _, err := NewNode(1024); err == nil {
		t.Fatal("expected error for node id above 1023")
	}
	if _, err := NewNode(0); err != nil {
		t.Fatalf("NewNode(0): %v", err)
	}
}

func TestGenerateUniqueAndIncreasing(t *testing.T) {
	n, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	prev := int64(0)
	seen := make(map[int64]bool, 10000)
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
		prev = id
	}
}
