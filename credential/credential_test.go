package credential

import (
	"context"
	"errors"
	"testing"
)

type mapStore struct {
	values map[int64]string
	err    error
}

func (m *mapStore) GetCredential(_ context.Context, userID int64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[userID], nil
}

func (m *mapStore) SetCredential(_ context.Context, userID int64, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[userID] = value
	return nil
}

func TestResolverGet(t *testing.T) {
	tests := []struct {
		name     string
		stored   string
		fallback string
		storeErr error
		want     string
	}{
		{name: "override wins", stored: "user-key", fallback: "default-key", want: "user-key"},
		{name: "blank override", stored: "   ", fallback: "default-key", want: "default-key"},
		{name: "no override", fallback: "default-key", want: "default-key"},
		{name: "nothing", want: ""},
		{name: "override trimmed", stored: "  user-key\n", want: "user-key"},
		{name: "store failure", stored: "user-key", fallback: "default-key", storeErr: errors.New("locked"), want: "default-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mapStore{values: map[int64]string{1: tt.stored}, err: tt.storeErr}
			r := NewResolver(store, tt.fallback, nil)
			if got := r.Get(context.Background(), 1); got != tt.want {
				t.Errorf("Get = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolverSetTrims(t *testing.T) {
	store := &mapStore{values: map[int64]string{}}
	r := NewResolver(store, "", nil)
	ctx := context.Background()

	if err := r.Set(ctx, 5, "  new-key \t"); err != nil {
		t.Fatal(err)
	}
	if store.values[5] != "new-key" {
		t.Errorf("stored %q", store.values[5])
	}
	if got := r.Get(ctx, 5); got != "new-key" {
		t.Errorf("Get = %q", got)
	}
	if got := r.Get(ctx, 6); got != "" {
		t.Errorf("other user resolved %q", got)
	}
}

func TestResolverWithoutStore(t *testing.T) {
	r := NewResolver(nil, " env-key ", nil)
	if got := r.Get(context.Background(), 1); got != "env-key" {
		t.Errorf("Get = %q", got)
	}
	if err := r.Set(context.Background(), 1, "x"); err != nil {
		t.Errorf("Set = %v", err)
	}
	if got := r.Pick(" header-key "); got != "header-key" {
		t.Errorf("Pick = %q", got)
	}
	if got := r.Pick(""); got != "env-key" {
		t.Errorf("Pick empty = %q", got)
	}
}

func TestMask(t *testing.T) {
	if got := Mask("AIzaSyExampleKey9Qk"); got != "AIza…y9Qk" {
		t.Errorf("Mask = %q", got)
	}
	if got := Mask("short"); got != "*****" {
		t.Errorf("Mask short = %q", got)
	}
}
