package comparer

import "testing"

func TestBytesComparer_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want int
	}{
		{"equal", []byte("abc"), []byte("abc"), 0},
		{"less", []byte("abc"), []byte("abd"), -1},
		{"greater", []byte("abd"), []byte("abc"), 1},
		{"prefix", []byte("ab"), []byte("abc"), -1},
		{"empty", []byte{}, []byte("a"), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := BytesComparer{}
			if got := sign(bc.Compare(tt.a, tt.b)); got != tt.want {
				t.Errorf("Compare() = %v, want %v", got, tt.want)
			}
		})
	}
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

func TestSharedPrefixLen(t *testing.T) {
	tests := []struct {
		name   string
		a, b   []byte
		wantLn int
	}{
		{"no overlap", []byte("abc"), []byte("xyz"), 0},
		{"full overlap shorter a", []byte("ab"), []byte("abcd"), 2},
		{"full overlap shorter b", []byte("abcd"), []byte("ab"), 2},
		{"identical", []byte("abc"), []byte("abc"), 3},
		{"empty", []byte{}, []byte("abc"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SharedPrefixLen(tt.a, tt.b); got != tt.wantLn {
				t.Errorf("SharedPrefixLen() = %v, want %v", got, tt.wantLn)
			}
		})
	}
}
