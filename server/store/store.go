// Package store is a facade for the storage backend. It provides the object
// mappers the engines use (Users, Conversations, Messages, Interests) and
// owns the unique id generator.
package store

import (
	"encoding/json"
	"errors"
	"time"

	adapter "github.com/meshchat/chat/server/store/adapter"
	t "github.com/meshchat/chat/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

var uGen t.UidGenerator

type configType struct {
	// Key for obfuscating sequential ids. 16 random bytes, base64-encoded
	// in the config file.
	UidKey []byte `json:"uid_key"`
	// Name of the adapter to use.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerId int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error())
	}

	if adp == nil {
		if len(availableAdapters) >= 1 {
			if config.UseAdapter != "" {
				adp = availableAdapters[config.UseAdapter]
				if adp == nil {
					return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
				}
			} else if len(availableAdapters) == 1 {
				for _, v := range availableAdapters {
					adp = v
				}
			} else {
				return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter` in `config`")
			}
		} else {
			return errors.New("store: no db adapters are available in this binary")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialise the snowflake sequence with the server-scoped worker id.
	if err := uGen.Init(uint(workerId), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}
	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interacting with
// the persistent storage.
type PersistentStorageInterface interface {
	Open(workerId int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	Snapshot() error
	DbStats() func() interface{}
}

// Store is the public facade of the storage backend.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system. Adapter name must be registered
// and adapter.Open must be called before any queries.
func (storeObj) Open(workerId int, jsonconf json.RawMessage) error {
	return openAdapter(workerId, jsonconf)
}

// Close terminates the connection to the persistent storage.
func (storeObj) Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}
	return nil
}

// IsOpen checks if the persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	return adp != nil && adp.IsOpen()
}

// GetAdapterName returns the name of the current adapter.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}
	return ""
}

// Snapshot persists the full current state through the adapter.
func (storeObj) Snapshot() error {
	return adp.Snapshot()
}

// DbStats returns a callback returning db connection stats object.
func (storeObj) DbStats() func() interface{} {
	if !Store.IsOpen() {
		return nil
	}
	return adp.Stats
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	name := a.GetName()
	if _, ok := availableAdapters[name]; ok {
		panic("store: adapter '" + name + "' is already registered")
	}
	availableAdapters[name] = a
}

// GetUid generates a unique ID suitable for use as a primary key.
// Use NewUid instead for ids that must not collide with stored entities.
func GetUid() t.Uid {
	return uGen.Get()
}

// ServerUid derives a stable identity for this server from its worker id.
// Deterministic for a given uid_key, so it survives restarts.
func ServerUid(workerId int) t.Uid {
	return uGen.EncodeInt64(int64(workerId))
}

// maxUidAttempts bounds the collision-regeneration loop. Snowflake ids are
// unique per worker, so more than one retry means clock trouble or a
// duplicate worker id.
const maxUidAttempts = 16

// NewUid generates an id guaranteed not to collide with any stored user,
// conversation or message. Relayed entities arrive with foreign ids, so
// presence checks are required even though local ids never repeat.
func NewUid() (t.Uid, error) {
	for i := 0; i < maxUidAttempts; i++ {
		id := uGen.Get()
		if id.IsZero() {
			continue
		}
		if user, err := adp.UserGet(id); err != nil {
			return t.ZeroUid, err
		} else if user != nil {
			continue
		}
		if conv, err := adp.ConversationGet(id); err != nil {
			return t.ZeroUid, err
		} else if conv != nil {
			continue
		}
		if msg, err := adp.MessageGet(id); err != nil {
			return t.ZeroUid, err
		} else if msg != nil {
			continue
		}
		return id, nil
	}
	return t.ZeroUid, errors.New("store: failed to generate unique id")
}

// UsersPersistenceInterface is an interface which defines methods for
// persistent storage of user records.
type UsersPersistenceInterface interface {
	Create(name string) (*t.User, error)
	CreateRemote(user *t.User) error
	Get(id t.Uid) (*t.User, error)
	GetByName(name string) (*t.User, error)
	GetAll() ([]t.User, error)
	CreatedAfter(after time.Time) ([]t.User, error)
}

// Users is the mapper for user records.
var Users UsersPersistenceInterface

type usersMapper struct{}

// Create inserts a new user with a fresh id.
func (usersMapper) Create(name string) (*t.User, error) {
	id, err := NewUid()
	if err != nil {
		return nil, err
	}
	user := &t.User{
		Id:        id,
		Name:      name,
		CreatedAt: t.TimeNow(),
	}
	if err := adp.UserCreate(user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateRemote inserts a user which already has an id, typically one
// received from the relay.
func (usersMapper) CreateRemote(user *t.User) error {
	return adp.UserCreate(user)
}

func (usersMapper) Get(id t.Uid) (*t.User, error) {
	return adp.UserGet(id)
}

func (usersMapper) GetByName(name string) (*t.User, error) {
	return adp.UserGetByName(name)
}

func (usersMapper) GetAll() ([]t.User, error) {
	return adp.UserGetAll()
}

func (usersMapper) CreatedAfter(after time.Time) ([]t.User, error) {
	return adp.UsersCreatedAfter(after)
}

// ConversationsPersistenceInterface is an interface which defines methods
// for persistent storage of conversations and their permission records.
type ConversationsPersistenceInterface interface {
	Create(creator t.Uid, title string, defaultAccess t.Role) (*t.ConversationHeader, error)
	CreateRemote(header *t.ConversationHeader) error
	Get(id t.Uid) (*t.ConversationHeader, error)
	GetByTitle(title string) (*t.ConversationHeader, error)
	GetAll() ([]t.ConversationHeader, error)
	CreatedAfter(after time.Time) ([]t.ConversationHeader, error)
	CreatedBy(creator t.Uid, after time.Time) ([]t.ConversationHeader, error)
	Delete(id t.Uid) error
	Payload(id t.Uid) (*t.ConversationPayload, error)
	Permission(id t.Uid) (*t.ConversationPermission, error)
	UpdatePermission(id t.Uid, edit func(*t.ConversationPermission) error) error
}

// Conversations is the mapper for conversation records.
var Conversations ConversationsPersistenceInterface

type conversationsMapper struct{}

// Create inserts a new conversation with a fresh id. The creator is granted
// RoleCreator in the permission record.
func (conversationsMapper) Create(creator t.Uid, title string, defaultAccess t.Role) (*t.ConversationHeader, error) {
	id, err := NewUid()
	if err != nil {
		return nil, err
	}
	header := &t.ConversationHeader{
		Id:            id,
		Creator:       creator,
		CreatedAt:     t.TimeNow(),
		Title:         title,
		DefaultAccess: defaultAccess,
	}
	if err := adp.ConversationCreate(header); err != nil {
		return nil, err
	}
	return header, nil
}

// CreateRemote inserts a conversation which already has an id, typically
// one received from the relay.
func (conversationsMapper) CreateRemote(header *t.ConversationHeader) error {
	return adp.ConversationCreate(header)
}

func (conversationsMapper) Get(id t.Uid) (*t.ConversationHeader, error) {
	return adp.ConversationGet(id)
}

func (conversationsMapper) GetByTitle(title string) (*t.ConversationHeader, error) {
	return adp.ConversationGetByTitle(title)
}

func (conversationsMapper) GetAll() ([]t.ConversationHeader, error) {
	return adp.ConversationGetAll()
}

func (conversationsMapper) CreatedAfter(after time.Time) ([]t.ConversationHeader, error) {
	return adp.ConversationsCreatedAfter(after)
}

func (conversationsMapper) CreatedBy(creator t.Uid, after time.Time) ([]t.ConversationHeader, error) {
	return adp.ConversationsCreatedBy(creator, after)
}

func (conversationsMapper) Delete(id t.Uid) error {
	return adp.ConversationDelete(id)
}

func (conversationsMapper) Payload(id t.Uid) (*t.ConversationPayload, error) {
	return adp.PayloadGet(id)
}

func (conversationsMapper) Permission(id t.Uid) (*t.ConversationPermission, error) {
	return adp.PermissionGet(id)
}

func (conversationsMapper) UpdatePermission(id t.Uid, edit func(*t.ConversationPermission) error) error {
	return adp.PermissionUpdate(id, edit)
}

// MessagesPersistenceInterface is an interface which defines methods for
// persistent storage of messages.
type MessagesPersistenceInterface interface {
	Save(author, conversation t.Uid, content string) (*t.Message, error)
	SaveRemote(msg *t.Message) error
	Get(id t.Uid) (*t.Message, error)
	GetAll() ([]t.Message, error)
	CreatedAfter(after time.Time) ([]t.Message, error)
}

// Messages is the mapper for message records.
var Messages MessagesPersistenceInterface

type messagesMapper struct{}

// Save appends a new message to the tail of the conversation's chain.
func (messagesMapper) Save(author, conversation t.Uid, content string) (*t.Message, error) {
	id, err := NewUid()
	if err != nil {
		return nil, err
	}
	msg := &t.Message{
		Id:           id,
		CreatedAt:    t.TimeNow(),
		Author:       author,
		Content:      content,
		Conversation: conversation,
	}
	if err := adp.MessageAppend(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SaveRemote appends a message which already has an id and a creation time,
// typically one received from the relay.
func (messagesMapper) SaveRemote(msg *t.Message) error {
	return adp.MessageAppend(msg)
}

func (messagesMapper) Get(id t.Uid) (*t.Message, error) {
	return adp.MessageGet(id)
}

func (messagesMapper) GetAll() ([]t.Message, error) {
	return adp.MessageGetAll()
}

func (messagesMapper) CreatedAfter(after time.Time) ([]t.Message, error) {
	return adp.MessagesCreatedAfter(after)
}

// InterestsPersistenceInterface is an interface which defines methods for
// persistent storage of interest records.
type InterestsPersistenceInterface interface {
	Create(owner, target t.Uid, kind t.InterestKind) (*t.Interest, error)
	Get(id t.Uid) (*t.Interest, error)
	Find(owner, target t.Uid) (*t.Interest, error)
	ByOwner(owner t.Uid) ([]t.Interest, error)
	SetWatermark(id t.Uid, at time.Time) error
	Delete(id t.Uid) error
}

// Interests is the mapper for interest records.
var Interests InterestsPersistenceInterface

type interestsMapper struct{}

// Create inserts a new interest of owner in target. The watermark starts at
// creation time so only later activity is reported.
func (interestsMapper) Create(owner, target t.Uid, kind t.InterestKind) (*t.Interest, error) {
	id, err := NewUid()
	if err != nil {
		return nil, err
	}
	in := &t.Interest{
		Id:         id,
		Owner:      owner,
		Target:     target,
		Kind:       kind,
		LastUpdate: t.TimeNow(),
	}
	if err := adp.InterestCreate(in); err != nil {
		return nil, err
	}
	return in, nil
}

func (interestsMapper) Get(id t.Uid) (*t.Interest, error) {
	return adp.InterestGet(id)
}

func (interestsMapper) Find(owner, target t.Uid) (*t.Interest, error) {
	return adp.InterestFind(owner, target)
}

func (interestsMapper) ByOwner(owner t.Uid) ([]t.Interest, error) {
	return adp.InterestsByOwner(owner)
}

func (interestsMapper) SetWatermark(id t.Uid, at time.Time) error {
	return adp.InterestSetWatermark(id, at)
}

func (interestsMapper) Delete(id t.Uid) error {
	return adp.InterestDelete(id)
}

func init() {
	Store = storeObj{}
	Users = usersMapper{}
	Conversations = conversationsMapper{}
	Messages = messagesMapper{}
	Interests = interestsMapper{}
}
