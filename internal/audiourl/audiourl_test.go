package audiourl

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://x/audio/?item_id=abc123", "https://x/abc123.mp3"},
		{"https://cdn.example.com/audio/?item_id=5af61ef7-cebd", "https://cdn.example.com/5af61ef7-cebd.mp3"},
		{"https://cdn.example.com/clips/xyz", "https://cdn.example.com/clips/xyz.mp3"},
		{"https://cdn.example.com/clips/xyz.mp3", "https://cdn.example.com/clips/xyz.mp3"},
		{"https://x/audio/?item_id=a/audio/?item_id=b", "https://x/a/audio/?item_id=b.mp3"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Resolve(tt.raw); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestResolveIdempotent(t *testing.T) {
	for _, raw := range []string{
		"https://x/audio/?item_id=abc123",
		"https://cdn.example.com/clips/xyz",
	} {
		once := Resolve(raw)
		if twice := Resolve(once); twice != once {
			t.Errorf("Resolve(Resolve(%q)) = %q, want %q", raw, twice, once)
		}
	}
}
