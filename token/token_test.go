package token

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"signflow/errs"
)

type fakeLookup map[string]Binding

func (f fakeLookup) LookupToken(_ context.Context, tok string) (Binding, error) {
	b, ok := f[tok]
	if !ok {
		return Binding{}, errs.New(errs.KindNotFound, "record not found")
	}
	return b, nil
}

func TestIssue_UniqueAndParsable(t *testing.T) {
	issuer := NewIssuer()
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		tok, err := issuer.Issue()
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
		if _, err := Parse(tok); err != nil {
			t.Fatalf("parse issued token: %v", err)
		}
	}
}

func TestIssue_ShortRandomSource(t *testing.T) {
	issuer := NewIssuer().WithRandom(bytes.NewReader([]byte{1, 2, 3}))
	if _, err := issuer.Issue(); err == nil {
		t.Fatal("expected error when random source runs dry")
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-token", "YWJj", "!!!!"} {
		if _, err := Parse(raw); !errors.Is(err, errs.ErrInvalidToken) {
			t.Fatalf("Parse(%q): expected invalid token, got %v", raw, err)
		}
	}
}

func TestResolve(t *testing.T) {
	issuer := NewIssuer()
	tok, _ := issuer.Issue()
	other, _ := issuer.Issue()
	lookup := fakeLookup{tok: {DocumentID: "doc-1", RecipientIdentity: "guest@example.com", External: true}}

	b, err := Resolve(context.Background(), lookup, "  "+tok+" ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.DocumentID != "doc-1" || !b.External {
		t.Fatalf("unexpected binding %+v", b)
	}

	if _, err := Resolve(context.Background(), lookup, other); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}
