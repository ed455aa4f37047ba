// Package memdb is an in-memory storage adapter: ordered btree indexes per
// entity with an optional pebble-backed snapshot for durability.
package memdb

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/meshchat/chat/server/store"
	t "github.com/meshchat/chat/server/store/types"
)

// adapterName is the key under `store_config.adapters` in the config file.
const adapterName = "memdb"

const defaultBtreeDegree = 16

type configType struct {
	// Directory for the pebble snapshot store. Empty disables persistence.
	SnapshotDir string `json:"snapshot_dir"`
}

type adapter struct {
	// lock guards every index below. Compound mutations hold it for their
	// whole span so readers never observe a half-linked chain.
	lock sync.RWMutex

	usersById   *btree.BTreeG[*t.User]
	usersByTime *btree.BTreeG[*t.User]
	usersByName *btree.BTreeG[*t.User]

	convsById    *btree.BTreeG[*t.ConversationHeader]
	convsByTime  *btree.BTreeG[*t.ConversationHeader]
	convsByTitle *btree.BTreeG[*t.ConversationHeader]

	payloads *btree.BTreeG[*t.ConversationPayload]
	perms    *btree.BTreeG[*t.ConversationPermission]

	msgsById   *btree.BTreeG[*t.Message]
	msgsByTime *btree.BTreeG[*t.Message]

	interestsById    *btree.BTreeG[*t.Interest]
	interestsByOwner *btree.BTreeG[*t.Interest]

	snap *snapshotStore
	open bool
}

// byTimeId orders records by creation time, breaking ties by id so
// same-millisecond records are distinct tree keys.
func byTimeId(at, bt time.Time, ai, bi t.Uid) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return ai < bi
}

// byTextId orders records by case-folded text, breaking ties by id.
func byTextId(as, bs string, ai, bi t.Uid) bool {
	af, bf := strings.ToLower(as), strings.ToLower(bs)
	if af != bf {
		return af < bf
	}
	return ai < bi
}

func (a *adapter) initIndexes() {
	a.usersById = btree.NewG(defaultBtreeDegree,
		func(x, y *t.User) bool { return x.Id < y.Id })
	a.usersByTime = btree.NewG(defaultBtreeDegree,
		func(x, y *t.User) bool { return byTimeId(x.CreatedAt, y.CreatedAt, x.Id, y.Id) })
	a.usersByName = btree.NewG(defaultBtreeDegree,
		func(x, y *t.User) bool { return byTextId(x.Name, y.Name, x.Id, y.Id) })

	a.convsById = btree.NewG(defaultBtreeDegree,
		func(x, y *t.ConversationHeader) bool { return x.Id < y.Id })
	a.convsByTime = btree.NewG(defaultBtreeDegree,
		func(x, y *t.ConversationHeader) bool { return byTimeId(x.CreatedAt, y.CreatedAt, x.Id, y.Id) })
	a.convsByTitle = btree.NewG(defaultBtreeDegree,
		func(x, y *t.ConversationHeader) bool { return byTextId(x.Title, y.Title, x.Id, y.Id) })

	a.payloads = btree.NewG(defaultBtreeDegree,
		func(x, y *t.ConversationPayload) bool { return x.Id < y.Id })
	a.perms = btree.NewG(defaultBtreeDegree,
		func(x, y *t.ConversationPermission) bool { return x.Id < y.Id })

	a.msgsById = btree.NewG(defaultBtreeDegree,
		func(x, y *t.Message) bool { return x.Id < y.Id })
	a.msgsByTime = btree.NewG(defaultBtreeDegree,
		func(x, y *t.Message) bool { return byTimeId(x.CreatedAt, y.CreatedAt, x.Id, y.Id) })

	a.interestsById = btree.NewG(defaultBtreeDegree,
		func(x, y *t.Interest) bool { return x.Id < y.Id })
	a.interestsByOwner = btree.NewG(defaultBtreeDegree,
		func(x, y *t.Interest) bool {
			if x.Owner != y.Owner {
				return x.Owner < y.Owner
			}
			return x.Id < y.Id
		})
}

// Open initializes the indexes and, if a snapshot directory is configured,
// restores the last snapshot from it.
func (a *adapter) Open(jsonconf json.RawMessage) error {
	if a.open {
		return errors.New("memdb: already opened")
	}

	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return errors.New("memdb: failed to parse config: " + err.Error())
		}
	}

	a.initIndexes()

	if config.SnapshotDir != "" {
		snap, err := openSnapshotStore(config.SnapshotDir)
		if err != nil {
			return err
		}
		a.snap = snap
		if err := a.restore(); err != nil {
			a.snap.close()
			a.snap = nil
			return err
		}
	}

	a.open = true
	return nil
}

// Close takes a final snapshot and releases the snapshot store.
func (a *adapter) Close() error {
	if !a.open {
		return nil
	}
	a.open = false
	if a.snap != nil {
		err := a.Snapshot()
		if cerr := a.snap.close(); cerr != nil && err == nil {
			err = cerr
		}
		a.snap = nil
		return err
	}
	return nil
}

func (a *adapter) IsOpen() bool {
	return a.open
}

func (a *adapter) GetName() string {
	return adapterName
}

// Stats returns current index sizes.
func (a *adapter) Stats() interface{} {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return map[string]int{
		"Users":         a.usersById.Len(),
		"Conversations": a.convsById.Len(),
		"Messages":      a.msgsById.Len(),
		"Interests":     a.interestsById.Len(),
	}
}

// Users.

func (a *adapter) UserCreate(user *t.User) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if user.Id.IsZero() {
		return errors.New("memdb: user id is not set")
	}
	if _, found := a.usersById.Get(&t.User{Id: user.Id}); found {
		return errors.New("memdb: duplicate user id")
	}
	u := *user
	a.usersById.ReplaceOrInsert(&u)
	a.usersByTime.ReplaceOrInsert(&u)
	a.usersByName.ReplaceOrInsert(&u)
	return nil
}

func (a *adapter) UserGet(id t.Uid) (*t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if u, found := a.usersById.Get(&t.User{Id: id}); found {
		out := *u
		return &out, nil
	}
	return nil, nil
}

func (a *adapter) UserGetByName(name string) (*t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var match *t.User
	a.usersByName.AscendGreaterOrEqual(&t.User{Name: name}, func(u *t.User) bool {
		if strings.EqualFold(u.Name, name) {
			out := *u
			match = &out
		}
		return false
	})
	return match, nil
}

func (a *adapter) UserGetAll() ([]t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	users := make([]t.User, 0, a.usersByTime.Len())
	a.usersByTime.Ascend(func(u *t.User) bool {
		users = append(users, *u)
		return true
	})
	return users, nil
}

func (a *adapter) UsersCreatedAfter(after time.Time) ([]t.User, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var users []t.User
	a.usersByTime.AscendGreaterOrEqual(&t.User{CreatedAt: after}, func(u *t.User) bool {
		if u.CreatedAt.After(after) {
			users = append(users, *u)
		}
		return true
	})
	return users, nil
}

// Conversations.

func (a *adapter) ConversationCreate(header *t.ConversationHeader) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if header.Id.IsZero() {
		return errors.New("memdb: conversation id is not set")
	}
	if _, found := a.convsById.Get(&t.ConversationHeader{Id: header.Id}); found {
		return errors.New("memdb: duplicate conversation id")
	}

	h := *header
	a.convsById.ReplaceOrInsert(&h)
	a.convsByTime.ReplaceOrInsert(&h)
	a.convsByTitle.ReplaceOrInsert(&h)
	a.payloads.ReplaceOrInsert(&t.ConversationPayload{Id: h.Id})
	a.perms.ReplaceOrInsert(t.NewConversationPermission(h.Id, h.Creator, h.DefaultAccess))
	return nil
}

func (a *adapter) ConversationGet(id t.Uid) (*t.ConversationHeader, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if h, found := a.convsById.Get(&t.ConversationHeader{Id: id}); found {
		out := *h
		return &out, nil
	}
	return nil, nil
}

func (a *adapter) ConversationGetByTitle(title string) (*t.ConversationHeader, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var match *t.ConversationHeader
	a.convsByTitle.AscendGreaterOrEqual(&t.ConversationHeader{Title: title},
		func(h *t.ConversationHeader) bool {
			if strings.EqualFold(h.Title, title) {
				out := *h
				match = &out
			}
			return false
		})
	return match, nil
}

func (a *adapter) ConversationGetAll() ([]t.ConversationHeader, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	headers := make([]t.ConversationHeader, 0, a.convsByTime.Len())
	a.convsByTime.Ascend(func(h *t.ConversationHeader) bool {
		headers = append(headers, *h)
		return true
	})
	return headers, nil
}

func (a *adapter) ConversationsCreatedAfter(after time.Time) ([]t.ConversationHeader, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var headers []t.ConversationHeader
	a.convsByTime.AscendGreaterOrEqual(&t.ConversationHeader{CreatedAt: after},
		func(h *t.ConversationHeader) bool {
			if h.CreatedAt.After(after) {
				headers = append(headers, *h)
			}
			return true
		})
	return headers, nil
}

func (a *adapter) ConversationsCreatedBy(creator t.Uid, after time.Time) ([]t.ConversationHeader, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var headers []t.ConversationHeader
	a.convsByTime.AscendGreaterOrEqual(&t.ConversationHeader{CreatedAt: after},
		func(h *t.ConversationHeader) bool {
			if h.CreatedAt.After(after) && h.Creator == creator {
				headers = append(headers, *h)
			}
			return true
		})
	return headers, nil
}

func (a *adapter) ConversationDelete(id t.Uid) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	h, found := a.convsById.Get(&t.ConversationHeader{Id: id})
	if !found {
		return errors.New("memdb: conversation not found")
	}
	a.convsById.Delete(h)
	a.convsByTime.Delete(h)
	a.convsByTitle.Delete(h)
	a.payloads.Delete(&t.ConversationPayload{Id: id})
	a.perms.Delete(&t.ConversationPermission{Id: id})

	var dead []*t.Message
	a.msgsByTime.Ascend(func(m *t.Message) bool {
		if m.Conversation == id {
			dead = append(dead, m)
		}
		return true
	})
	for _, m := range dead {
		a.msgsById.Delete(m)
		a.msgsByTime.Delete(m)
	}
	return nil
}

func (a *adapter) PayloadGet(id t.Uid) (*t.ConversationPayload, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if p, found := a.payloads.Get(&t.ConversationPayload{Id: id}); found {
		out := *p
		return &out, nil
	}
	return nil, nil
}

// Permissions.

func (a *adapter) PermissionGet(conversation t.Uid) (*t.ConversationPermission, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if cp, found := a.perms.Get(&t.ConversationPermission{Id: conversation}); found {
		return cp.Clone(), nil
	}
	return nil, nil
}

func (a *adapter) PermissionUpdate(conversation t.Uid, edit func(*t.ConversationPermission) error) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	cp, found := a.perms.Get(&t.ConversationPermission{Id: conversation})
	if !found {
		return errors.New("memdb: conversation not found")
	}
	// Edit a clone; publish only on success.
	clone := cp.Clone()
	if err := edit(clone); err != nil {
		return err
	}
	a.perms.ReplaceOrInsert(clone)
	return nil
}

// Messages.

func (a *adapter) MessageAppend(msg *t.Message) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if msg.Id.IsZero() {
		return errors.New("memdb: message id is not set")
	}
	if _, found := a.msgsById.Get(&t.Message{Id: msg.Id}); found {
		return errors.New("memdb: duplicate message id")
	}
	payload, found := a.payloads.Get(&t.ConversationPayload{Id: msg.Conversation})
	if !found {
		return errors.New("memdb: conversation not found")
	}

	m := *msg
	m.Next = t.ZeroUid
	m.Previous = payload.LastMessage

	// Insert, back-patch the old tail, advance the payload. All under the
	// same write lock so no reader sees the chain half-linked.
	a.msgsById.ReplaceOrInsert(&m)
	a.msgsByTime.ReplaceOrInsert(&m)
	if !payload.LastMessage.IsZero() {
		if tail, ok := a.msgsById.Get(&t.Message{Id: payload.LastMessage}); ok {
			tail.Next = m.Id
		}
	} else {
		payload.FirstMessage = m.Id
	}
	payload.LastMessage = m.Id

	msg.Previous = m.Previous
	msg.Next = m.Next
	return nil
}

func (a *adapter) MessageGet(id t.Uid) (*t.Message, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if m, found := a.msgsById.Get(&t.Message{Id: id}); found {
		out := *m
		return &out, nil
	}
	return nil, nil
}

func (a *adapter) MessageGetAll() ([]t.Message, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	msgs := make([]t.Message, 0, a.msgsByTime.Len())
	a.msgsByTime.Ascend(func(m *t.Message) bool {
		msgs = append(msgs, *m)
		return true
	})
	return msgs, nil
}

func (a *adapter) MessagesCreatedAfter(after time.Time) ([]t.Message, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var msgs []t.Message
	a.msgsByTime.AscendGreaterOrEqual(&t.Message{CreatedAt: after}, func(m *t.Message) bool {
		if m.CreatedAt.After(after) {
			msgs = append(msgs, *m)
		}
		return true
	})
	return msgs, nil
}

// Interests.

func (a *adapter) InterestCreate(in *t.Interest) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if in.Id.IsZero() {
		return errors.New("memdb: interest id is not set")
	}
	if _, found := a.interestsById.Get(&t.Interest{Id: in.Id}); found {
		return errors.New("memdb: duplicate interest id")
	}
	i := *in
	a.interestsById.ReplaceOrInsert(&i)
	a.interestsByOwner.ReplaceOrInsert(&i)
	return nil
}

func (a *adapter) InterestGet(id t.Uid) (*t.Interest, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	if in, found := a.interestsById.Get(&t.Interest{Id: id}); found {
		out := *in
		return &out, nil
	}
	return nil, nil
}

func (a *adapter) InterestFind(owner, target t.Uid) (*t.Interest, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var match *t.Interest
	a.interestsByOwner.AscendGreaterOrEqual(&t.Interest{Owner: owner}, func(in *t.Interest) bool {
		if in.Owner != owner {
			return false
		}
		if in.Target == target {
			out := *in
			match = &out
			return false
		}
		return true
	})
	return match, nil
}

func (a *adapter) InterestsByOwner(owner t.Uid) ([]t.Interest, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var ins []t.Interest
	a.interestsByOwner.AscendGreaterOrEqual(&t.Interest{Owner: owner}, func(in *t.Interest) bool {
		if in.Owner != owner {
			return false
		}
		ins = append(ins, *in)
		return true
	})
	return ins, nil
}

func (a *adapter) InterestSetWatermark(id t.Uid, at time.Time) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	in, found := a.interestsById.Get(&t.Interest{Id: id})
	if !found {
		return errors.New("memdb: interest not found")
	}
	in.LastUpdate = at
	return nil
}

func (a *adapter) InterestDelete(id t.Uid) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	in, found := a.interestsById.Get(&t.Interest{Id: id})
	if !found {
		return errors.New("memdb: interest not found")
	}
	a.interestsById.Delete(in)
	a.interestsByOwner.Delete(in)
	return nil
}

func init() {
	store.RegisterAdapter(&adapter{})
}
