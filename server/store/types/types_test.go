package types

import (
	"encoding/json"
	"testing"
)

func TestUidTextMarshalling(t *testing.T) {
	uid := Uid(0xdeadbeef12345678)
	text, err := uid.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	if len(text) != uidBase64Unpadded {
		t.Errorf("Expected %d characters, got %d", uidBase64Unpadded, len(text))
	}

	var decoded Uid
	if err = decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if decoded != uid {
		t.Errorf("Roundtrip mismatch: %v != %v", decoded, uid)
	}

	if ParseUid(uid.String()) != uid {
		t.Error("ParseUid(String()) should roundtrip")
	}
	if ParseUid("not a uid!") != ZeroUid {
		t.Error("ParseUid of garbage should return ZeroUid")
	}
}

func TestUidJSON(t *testing.T) {
	uid := Uid(12345678901234567)
	data, err := json.Marshal(uid)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded Uid
	if err = json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != uid {
		t.Errorf("JSON roundtrip mismatch: %v != %v", decoded, uid)
	}

	// Uid used as a map key, the way permission records are snapshotted.
	m := map[Uid]Role{uid: RoleOwner}
	data, err = json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal of map failed: %v", err)
	}
	var dm map[Uid]Role
	if err = json.Unmarshal(data, &dm); err != nil {
		t.Fatalf("Unmarshal of map failed: %v", err)
	}
	if dm[uid] != RoleOwner {
		t.Error("Map key roundtrip failed")
	}
}

func TestRoleOutranks(t *testing.T) {
	ranks := []Role{RoleCreator, RoleOwner, RoleMember, RoleNotSet}
	for i, higher := range ranks {
		for j, lower := range ranks {
			expected := i < j
			if got := higher.Outranks(lower); got != expected {
				t.Errorf("%v.Outranks(%v) = %v, want %v", higher, lower, got, expected)
			}
		}
	}

	// No role outranks itself.
	for _, r := range ranks {
		if r.Outranks(r) {
			t.Errorf("%v should not outrank itself", r)
		}
	}
}

func TestConversationPermission(t *testing.T) {
	creator := Uid(1)
	other := Uid(2)
	cp := NewConversationPermission(Uid(100), creator, RoleMember)

	if cp.Status(creator) != RoleCreator {
		t.Error("Creator should hold RoleCreator after construction")
	}
	if cp.Status(other) != RoleNotSet {
		t.Error("Unknown user should resolve to RoleNotSet")
	}
	if cp.ContainsUser(other) {
		t.Error("Unknown user should not be contained")
	}

	cp.ChangeAccess(other, RoleOwner)
	if cp.Status(other) != RoleOwner {
		t.Error("ChangeAccess should set the role")
	}
	if cp.CountRole(RoleOwner) != 1 {
		t.Error("CountRole should count one owner")
	}

	clone := cp.Clone()
	clone.ChangeAccess(other, RoleMember)
	if cp.Status(other) != RoleOwner {
		t.Error("Mutating a clone must not affect the original")
	}

	cp.RemoveUser(other)
	if cp.ContainsUser(other) {
		t.Error("RemoveUser should clear the entry")
	}
	if cp.Status(other) != RoleNotSet {
		t.Error("Removed user should resolve to RoleNotSet")
	}
}
