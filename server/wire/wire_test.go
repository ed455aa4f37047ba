package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/meshchat/chat/server/store/types"
)

func TestStringRoundtrip(t *testing.T) {
	var b bytes.Buffer
	for _, s := range []string{"", "hello", "ünïcödé ✓", string(make([]byte, 4096))} {
		b.Reset()
		if err := WriteString(&b, s); err != nil {
			t.Fatal(err)
		}
		got, err := ReadString(&b)
		if err != nil {
			t.Fatalf("ReadString(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("roundtrip mismatch for %q", s)
		}
	}
}

func TestStringRejectsBadLength(t *testing.T) {
	var b bytes.Buffer
	WriteInt32(&b, -5)
	if _, err := ReadString(&b); err != errBadLength {
		t.Errorf("negative length should fail with errBadLength, got %v", err)
	}

	b.Reset()
	WriteInt32(&b, maxStringLen+1)
	if _, err := ReadString(&b); err != errBadLength {
		t.Errorf("oversized length should fail with errBadLength, got %v", err)
	}
}

func TestTimeRoundtrip(t *testing.T) {
	var b bytes.Buffer
	at := time.Date(2024, 5, 17, 9, 30, 15, 250e6, time.UTC)
	if err := WriteTime(&b, at); err != nil {
		t.Fatal(err)
	}
	got, err := ReadTime(&b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(at) {
		t.Errorf("time roundtrip mismatch: %v != %v", got, at)
	}
}

func TestRoleValidation(t *testing.T) {
	var b bytes.Buffer
	for _, role := range []types.Role{types.RoleCreator, types.RoleOwner, types.RoleMember, types.RoleNotSet} {
		b.Reset()
		if err := WriteRole(&b, role); err != nil {
			t.Fatal(err)
		}
		got, err := ReadRole(&b)
		if err != nil || got != role {
			t.Errorf("role roundtrip failed for %v: %v, %v", role, got, err)
		}
	}

	b.Reset()
	WriteInt32(&b, 42)
	if _, err := ReadRole(&b); err == nil {
		t.Error("undefined rank should be rejected")
	}
}

func TestPresenceValidation(t *testing.T) {
	var b bytes.Buffer
	WritePresence(&b, true)
	WritePresence(&b, false)
	if present, err := ReadPresence(&b); err != nil || !present {
		t.Errorf("expected present, got %v, %v", present, err)
	}
	if present, err := ReadPresence(&b); err != nil || present {
		t.Errorf("expected absent, got %v, %v", present, err)
	}

	b.Reset()
	b.WriteByte(7)
	if _, err := ReadPresence(&b); err == nil {
		t.Error("invalid presence byte should be rejected")
	}
}

func TestMessageRoundtrip(t *testing.T) {
	want := &types.Message{
		Id:           types.Uid(42),
		Previous:     types.Uid(41),
		Next:         types.ZeroUid,
		CreatedAt:    time.Date(2024, 5, 17, 9, 30, 15, 250e6, time.UTC),
		Author:       types.Uid(7),
		Content:      "chained",
		Conversation: types.Uid(100),
	}
	var b bytes.Buffer
	if err := WriteMessage(&b, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMessage(&b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestInterestStatusRoundtrip(t *testing.T) {
	// User-kind report: both lists present, one of them empty.
	want := &types.InterestStatus{
		Id:                       types.Uid(9),
		Unread:                   -1,
		NewConversations:         []string{"alpha", "beta"},
		ContributedConversations: []string{},
		Kind:                     types.KindUser,
		Name:                     "watched",
	}
	var b bytes.Buffer
	if err := WriteInterestStatus(&b, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadInterestStatus(&b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("user report mismatch (-want +got):\n%s", diff)
	}

	// Conversation-kind report: no lists at all.
	want = &types.InterestStatus{
		Id:     types.Uid(10),
		Unread: 3,
		Kind:   types.KindConversation,
		Name:   "general",
	}
	b.Reset()
	if err = WriteInterestStatus(&b, want); err != nil {
		t.Fatal(err)
	}
	if got, err = ReadInterestStatus(&b); err != nil {
		t.Fatal(err)
	}
	if got.NewConversations != nil || got.ContributedConversations != nil {
		t.Error("absent lists must decode as nil")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("conversation report mismatch (-want +got):\n%s", diff)
	}
}

func TestRoleMapRoundtrip(t *testing.T) {
	want := map[types.Uid]types.Role{
		types.Uid(1): types.RoleCreator,
		types.Uid(2): types.RoleOwner,
		types.Uid(3): types.RoleMember,
	}
	var b bytes.Buffer
	if err := WriteRoleMap(&b, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRoleMap(&b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("role map mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncatedInput(t *testing.T) {
	var b bytes.Buffer
	WriteString(&b, "almost")
	trunc := b.Bytes()[:b.Len()-2]
	if _, err := ReadString(bytes.NewReader(trunc)); err == nil {
		t.Error("truncated string should fail")
	}
	if _, err := ReadUid(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Error("truncated uid should fail")
	}
}
