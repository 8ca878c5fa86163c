package document

import (
	"errors"
	"testing"

	"signflow/errs"
)

func TestStatus_CanAdvanceTo(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDraft, StatusPublished, true},
		{StatusPublished, StatusCompleted, true},
		{StatusDraft, StatusCompleted, false},
		{StatusPublished, StatusDraft, false},
		{StatusCompleted, StatusPublished, false},
		{StatusCompleted, StatusDraft, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestResolveTitle(t *testing.T) {
	if got := ResolveTitle("Report", nil); got != "Report" {
		t.Fatalf("expected free title to be kept, got %q", got)
	}
	if got := ResolveTitle("Report", []string{"Report"}); got != "Report (1)" {
		t.Fatalf("expected Report (1), got %q", got)
	}
	if got := ResolveTitle("Report", []string{"Report", "Report (1)"}); got != "Report (2)" {
		t.Fatalf("expected Report (2), got %q", got)
	}
	if got := ResolveTitle("Report", []string{"Report", "Report (2)"}); got != "Report (1)" {
		t.Fatalf("expected the smallest free suffix, got %q", got)
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := NormalizeTitle("   "); got != DefaultTitle {
		t.Fatalf("expected %q got %q", DefaultTitle, got)
	}
	if got := NormalizeTitle("  Lease "); got != "Lease" {
		t.Fatalf("expected trimmed title, got %q", got)
	}
}

func TestApply_PartialUpdate(t *testing.T) {
	doc := Document{
		ID:      "doc-1",
		Title:   "Lease",
		BlobKey: "designer-docs/doc-1/a.pdf",
		Pages:   2,
		Type:    "pdf",
		Status:  StatusDraft,
	}

	got, err := doc.Apply(MetadataPatch{Pages: 4, Recipients: []Recipient{{ID: "u1", Email: "u1@example.com"}}})
	if err != nil {
		t.Fatalf("apply: unexpected error: %v", err)
	}
	if got.Pages != 4 || len(got.Recipients) != 1 {
		t.Fatalf("expected pages and recipients updated, got %+v", got)
	}
	if got.BlobKey != doc.BlobKey || got.Type != doc.Type {
		t.Fatalf("expected untouched fields to be kept, got %+v", got)
	}
}

func TestApply_StatusAndCompletedConflicts(t *testing.T) {
	draft := Document{ID: "doc-1", Status: StatusDraft}
	if _, err := draft.Apply(MetadataPatch{Status: StatusPublished}); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if _, err := draft.Apply(MetadataPatch{Status: StatusDraft, Pages: 3}); err != nil {
		t.Fatalf("same status must be accepted, got %v", err)
	}

	completed := Document{ID: "doc-1", Status: StatusCompleted}
	_, err := completed.Apply(MetadataPatch{Pages: 3})
	if !errors.Is(err, ErrCompleted) || !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected conflict for completed document, got %v", err)
	}
}

func TestValidateForPublish(t *testing.T) {
	if err := (Document{}).ValidateForPublish(); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for empty roster, got %v", err)
	}
	doc := Document{Recipients: []Recipient{{ID: "u1", Email: "u1@example.com"}, {ID: "u2"}}}
	if err := doc.ValidateForPublish(); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for missing email, got %v", err)
	}
}

func TestRecipientIdentity(t *testing.T) {
	internal := Recipient{ID: "user-7", Email: "seven@example.com"}
	if internal.Identity() != "user-7" {
		t.Fatalf("internal identity should be the user id, got %q", internal.Identity())
	}
	external := Recipient{ID: "ignored", Email: "guest@example.com", External: true}
	if external.Identity() != "guest@example.com" {
		t.Fatalf("external identity should be the email, got %q", external.Identity())
	}
	if (Recipient{}).DisplayName() != "User" {
		t.Fatal("expected default display name")
	}
}

func TestApply_PublishedRosterIsFixed(t *testing.T) {
	published := Document{
		ID:         "doc-1",
		Status:     StatusPublished,
		Recipients: []Recipient{{ID: "a", Email: "a@example.com"}},
	}
	_, err := published.Apply(MetadataPatch{Recipients: []Recipient{{ID: "c", Email: "c@example.com"}}})
	if !errors.Is(err, ErrRosterFixed) || !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected roster conflict, got %v", err)
	}
	if _, err := published.Apply(MetadataPatch{Fields: []Field{{ID: "f1", RecipientID: "a"}}}); !errors.Is(err, ErrRosterFixed) {
		t.Fatalf("expected field conflict, got %v", err)
	}
	if _, err := published.Apply(MetadataPatch{Type: "pdf"}); err != nil {
		t.Fatalf("non roster changes must be accepted, got %v", err)
	}
}

func TestRosterComplete(t *testing.T) {
	doc := Document{Recipients: []Recipient{
		{ID: "a", Email: "a@example.com"},
		{Email: "guest@example.com", External: true},
	}}

	cases := []struct {
		name string
		done []string
		want bool
	}{
		{"all members", []string{"guest@example.com", "a"}, true},
		{"missing member", []string{"a"}, false},
		{"repeated member", []string{"a", "a"}, false},
		{"outsider fills the count", []string{"a", "z"}, false},
		{"extra outsider", []string{"a", "guest@example.com", "z"}, true},
	}
	for _, tc := range cases {
		if got := doc.RosterComplete(tc.done); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if (Document{}).RosterComplete([]string{"a"}) {
		t.Fatal("empty roster must never be complete")
	}
}
