package types

import (
	"testing"
)

func TestUidGeneratorInit(t *testing.T) {
	ug := &UidGenerator{}
	key := []byte("testkey1testkey2") // 16 bytes for XTEA

	err := ug.Init(1, key)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ug.seq == nil {
		t.Error("Snowflake generator should be initialized")
	}
	if ug.cipher == nil {
		t.Error("Cipher should be initialized")
	}

	// Repeated Init must not re-initialize.
	oldSeq := ug.seq
	oldCipher := ug.cipher
	if err = ug.Init(3, key); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ug.seq != oldSeq {
		t.Error("Snowflake generator should not be reinitialized")
	}
	if ug.cipher != oldCipher {
		t.Error("Cipher should not be reinitialized")
	}
}

func TestUidGeneratorInitWithInvalidKey(t *testing.T) {
	for _, key := range [][]byte{nil, {}, []byte("short"), []byte("testkey1testkey")} {
		ug := &UidGenerator{}
		if err := ug.Init(1, key); err == nil {
			t.Errorf("Expected error with %d-byte key", len(key))
		}
	}
}

func TestUidGeneratorGet(t *testing.T) {
	ug := &UidGenerator{}
	if err := ug.Init(1, []byte("testkey1testkey2")); err != nil {
		t.Fatalf("Failed to initialize generator: %v", err)
	}

	uids := make(map[Uid]bool)
	for i := 0; i < 1000; i++ {
		uid := ug.Get()
		if uid == ZeroUid {
			t.Fatalf("UID %d should not be zero", i)
		}
		if uids[uid] {
			t.Fatalf("Duplicate UID generated: %v", uid)
		}
		uids[uid] = true
	}
}

func TestUidGeneratorGetWithUninitializedGenerator(t *testing.T) {
	ug := &UidGenerator{}
	if uid := ug.Get(); uid != ZeroUid {
		t.Error("Expected ZeroUid from uninitialized generator")
	}
	if s := ug.GetStr(); s != "" {
		t.Error("Expected empty string from uninitialized generator")
	}
}

func TestUidGeneratorEncodeDecodeRoundtrip(t *testing.T) {
	ug := &UidGenerator{}
	if err := ug.Init(1, []byte("testkey1testkey2")); err != nil {
		t.Fatalf("Failed to initialize generator: %v", err)
	}

	for _, val := range []int64{0, 1, 42, 12345, 1000000, 9223372036854775807} {
		encoded := ug.EncodeInt64(val)
		decoded := ug.DecodeUid(encoded)
		if decoded != val {
			t.Errorf("Roundtrip failed for %d: got %d", val, decoded)
		}
	}

	uid := ug.Get()
	if reencoded := ug.EncodeInt64(ug.DecodeUid(uid)); reencoded != uid {
		t.Error("Generated UID roundtrip failed")
	}
}

func TestUidGeneratorDifferentWorkerIds(t *testing.T) {
	key := []byte("testkey1testkey2")
	ug1 := &UidGenerator{}
	ug2 := &UidGenerator{}
	if err := ug1.Init(1, key); err != nil {
		t.Fatal(err)
	}
	if err := ug2.Init(2, key); err != nil {
		t.Fatal(err)
	}

	allUids := make(map[Uid]bool)
	for i := 0; i < 100; i++ {
		for _, uid := range []Uid{ug1.Get(), ug2.Get()} {
			if allUids[uid] {
				t.Error("Duplicate UID found across generators")
			}
			allUids[uid] = true
		}
	}
}
