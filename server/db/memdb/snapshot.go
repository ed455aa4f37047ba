package memdb

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"

	t "github.com/meshchat/chat/server/store/types"
)

// Snapshot keys. Each holds one entity set as a JSON array.
const (
	keyUsers         = "snapshot/users"
	keyConversations = "snapshot/conversations"
	keyPayloads      = "snapshot/payloads"
	keyPermissions   = "snapshot/permissions"
	keyMessages      = "snapshot/messages"
	keyInterests     = "snapshot/interests"
)

// snapshotStore wraps the pebble handle used for durability.
type snapshotStore struct {
	db *pebble.DB
}

func openSnapshotStore(dir string) (*snapshotStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.New("memdb: failed to open snapshot store: " + err.Error())
	}
	return &snapshotStore{db: db}, nil
}

func (s *snapshotStore) close() error {
	return s.db.Close()
}

// get returns the value stored under key, nil if absent.
func (s *snapshotStore) get(key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot serializes every entity set and commits all of them in one synced
// batch, so a crash mid-write never leaves a torn snapshot behind.
func (a *adapter) Snapshot() error {
	if a.snap == nil {
		return nil
	}

	a.lock.RLock()
	sets, err := a.collectSets()
	a.lock.RUnlock()
	if err != nil {
		return err
	}

	batch := a.snap.db.NewBatch()
	defer batch.Close()
	for key, data := range sets {
		if err := batch.Set([]byte(key), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// collectSets marshals every index to JSON. Caller holds at least a read
// lock.
func (a *adapter) collectSets() (map[string][]byte, error) {
	users := make([]*t.User, 0, a.usersByTime.Len())
	a.usersByTime.Ascend(func(u *t.User) bool {
		users = append(users, u)
		return true
	})

	convs := make([]*t.ConversationHeader, 0, a.convsByTime.Len())
	a.convsByTime.Ascend(func(h *t.ConversationHeader) bool {
		convs = append(convs, h)
		return true
	})

	payloads := make([]*t.ConversationPayload, 0, a.payloads.Len())
	a.payloads.Ascend(func(p *t.ConversationPayload) bool {
		payloads = append(payloads, p)
		return true
	})

	perms := make([]*t.ConversationPermission, 0, a.perms.Len())
	a.perms.Ascend(func(cp *t.ConversationPermission) bool {
		perms = append(perms, cp)
		return true
	})

	msgs := make([]*t.Message, 0, a.msgsByTime.Len())
	a.msgsByTime.Ascend(func(m *t.Message) bool {
		msgs = append(msgs, m)
		return true
	})

	interests := make([]*t.Interest, 0, a.interestsById.Len())
	a.interestsById.Ascend(func(in *t.Interest) bool {
		interests = append(interests, in)
		return true
	})

	sets := make(map[string][]byte)
	for key, v := range map[string]interface{}{
		keyUsers:         users,
		keyConversations: convs,
		keyPayloads:      payloads,
		keyPermissions:   perms,
		keyMessages:      msgs,
		keyInterests:     interests,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		sets[key] = data
	}
	return sets, nil
}

// restore loads the last snapshot into the freshly initialized indexes.
// Chain links and payload head/tail are stored verbatim, so no replay of
// the append path is needed. Called from Open, before the adapter is shared.
func (a *adapter) restore() error {
	var users []*t.User
	if err := a.loadSet(keyUsers, &users); err != nil {
		return err
	}
	for _, u := range users {
		a.usersById.ReplaceOrInsert(u)
		a.usersByTime.ReplaceOrInsert(u)
		a.usersByName.ReplaceOrInsert(u)
	}

	var convs []*t.ConversationHeader
	if err := a.loadSet(keyConversations, &convs); err != nil {
		return err
	}
	for _, h := range convs {
		a.convsById.ReplaceOrInsert(h)
		a.convsByTime.ReplaceOrInsert(h)
		a.convsByTitle.ReplaceOrInsert(h)
	}

	var payloads []*t.ConversationPayload
	if err := a.loadSet(keyPayloads, &payloads); err != nil {
		return err
	}
	for _, p := range payloads {
		a.payloads.ReplaceOrInsert(p)
	}

	var perms []*t.ConversationPermission
	if err := a.loadSet(keyPermissions, &perms); err != nil {
		return err
	}
	for _, cp := range perms {
		if cp.Users == nil {
			cp.Users = make(map[t.Uid]t.Role)
		}
		a.perms.ReplaceOrInsert(cp)
	}

	var msgs []*t.Message
	if err := a.loadSet(keyMessages, &msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		a.msgsById.ReplaceOrInsert(m)
		a.msgsByTime.ReplaceOrInsert(m)
	}

	var interests []*t.Interest
	if err := a.loadSet(keyInterests, &interests); err != nil {
		return err
	}
	for _, in := range interests {
		a.interestsById.ReplaceOrInsert(in)
		a.interestsByOwner.ReplaceOrInsert(in)
	}

	return nil
}

func (a *adapter) loadSet(key string, dst interface{}) error {
	data, err := a.snap.get(key)
	if err != nil {
		return errors.New("memdb: failed to read " + key + ": " + err.Error())
	}
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.New("memdb: failed to decode " + key + ": " + err.Error())
	}
	return nil
}
