package main

import (
	"testing"
)

func TestSplitSeeds(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"127.0.0.1:8401", []string{"127.0.0.1:8401"}},
		{" a:1 , ,b:2,", []string{"a:1", "b:2"}},
	}
	for _, tt := range tests {
		got := splitSeeds(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("splitSeeds(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("splitSeeds(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}

func TestStartNodeRandomPortInRange(t *testing.T) {
	k, port, err := startNode("", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()
	if port < minPort || port >= maxPort {
		t.Fatalf("port %d outside [%d, %d)", port, minPort, maxPort)
	}
}

func TestStartNodeWithBoltStorage(t *testing.T) {
	k, port, err := startNode("127.0.0.1:0", t.TempDir()+"/node.db", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()
	if port != 0 {
		t.Fatalf("unexpected port %d", port)
	}
}
