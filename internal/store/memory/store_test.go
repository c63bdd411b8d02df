package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/satindergrewal/snaptracks/internal/track"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if _, err := s.Load(ctx); !errors.Is(err, track.ErrNoRecord) {
		t.Errorf("Load on empty store = %v, want ErrNoRecord", err)
	}

	buf := []byte(`{"songs":[]}`)
	if err := s.Save(ctx, buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	buf[0] = 'X' // caller mutation must not leak into the store

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"songs":[]}` {
		t.Errorf("Load = %s, want original bytes", got)
	}
}
