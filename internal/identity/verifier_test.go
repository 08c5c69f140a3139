package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketgate.org/internal/identity"
)

func TestVerifyRejectsMalformedWithoutDirectoryCall(t *testing.T) {
	dir := &fakeDirectory{names: map[string]string{goodID: "trader"}}
	v := identity.NewVerifier(dir, time.Second)

	for _, raw := range []string{"not-a-real-token", "", "0123456789abcdef", goodID + "00", "0123456789abcdefg123456789abcdef"} {
		if _, err := v.Verify(context.Background(), raw); !errors.Is(err, identity.ErrIdentifierInvalid) {
			t.Fatalf("Verify(%q) = %v, want ErrIdentifierInvalid", raw, err)
		}
	}
	if got := dir.calls.Load(); got != 0 {
		t.Fatalf("expected no directory calls, got %d", got)
	}
}

func TestVerifyOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		dir     *fakeDirectory
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "found",
			dir:   &fakeDirectory{names: map[string]string{goodID: "  trader  "}},
			input: goodID,
			want:  "trader",
		},
		{
			name:  "normalizes case and whitespace",
			dir:   &fakeDirectory{names: map[string]string{goodID: "trader"}},
			input: "  0123456789ABCDEF0123456789ABCDEF ",
			want:  "trader",
		},
		{
			name:    "directory miss",
			dir:     &fakeDirectory{names: map[string]string{}},
			input:   goodID,
			wantErr: identity.ErrIdentifierNotFound,
		},
		{
			name:    "directory error",
			dir:     &fakeDirectory{err: errors.New("502 bad gateway")},
			input:   goodID,
			wantErr: identity.ErrVerifierUnavailable,
		},
		{
			name:    "empty name",
			dir:     &fakeDirectory{names: map[string]string{goodID: " "}},
			input:   goodID,
			wantErr: identity.ErrVerifierUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := identity.NewVerifier(tc.dir, time.Second)
			got, err := v.Verify(context.Background(), tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Verify = %q, %v; want %q", got, err, tc.want)
			}
			if tc.dir.calls.Load() != 1 {
				t.Fatalf("expected exactly one directory call, got %d", tc.dir.calls.Load())
			}
		})
	}
}

type slowDirectory struct{}

func (slowDirectory) Lookup(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestVerifyTimeoutIsUnavailable(t *testing.T) {
	v := identity.NewVerifier(slowDirectory{}, 20*time.Millisecond)
	if _, err := v.Verify(context.Background(), goodID); !errors.Is(err, identity.ErrVerifierUnavailable) {
		t.Fatalf("expected ErrVerifierUnavailable, got %v", err)
	}
}
