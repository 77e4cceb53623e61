package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"

	"pos-ledger/db"
	"pos-ledger/models"
)

// Key namespaces. Every key in the underlying store starts with one of the
// two top-level prefixes.
const (
	blockPrefix = "block:"
	statePrefix = "state:"

	accountKeyPrefix   = "account/"
	validatorKeyPrefix = "validator/"
	headKey            = "chain/head"
	snapshotKey        = "snapshot/latest"

	blockCacheLimit = 256
)

// ErrNotFound is returned by the typed getters when nothing is stored.
var ErrNotFound = errors.New("not found")

// LedgerStore is the raw namespaced key-value contract.
type LedgerStore interface {
	PutBlock(height uint64, data []byte) error
	GetBlock(height uint64) ([]byte, bool, error)
	PutState(key string, data []byte) error
	GetState(key string) ([]byte, bool, error)
}

// It abstracts the storage layer from the consensus and staking logic
type LedgerRepositoryInterface interface {
	LedgerStore

	CommitBlock(block *models.Block, accounts []*models.Account) error
	GetBlockAt(height uint64) (*models.Block, error)
	GetHead() (*models.ChainHead, error)

	GetAccount(address string) (*models.Account, error)
	GetAllAccounts() (map[string]*models.Account, error)

	PutValidator(v *models.Validator) error
	DeleteValidator(id string) error
	GetAllValidators() ([]*models.Validator, error)

	PutSnapshot(s *models.StateSnapshot) error
	GetLatestSnapshot() (*models.StateSnapshot, error)
}

// LedgerRepository implements the LedgerRepositoryInterface using LevelDB as the storage backend
type LedgerRepository struct {
	db         *db.LevelDB
	blockCache *lru.Cache // raw encoded blocks by height
}

// NewLedgerRepository creates and returns a new LedgerRepository instance
func NewLedgerRepository(ldb *db.LevelDB) *LedgerRepository {
	bc, _ := lru.New(blockCacheLimit)
	return &LedgerRepository{db: ldb, blockCache: bc}
}

// BlockKey is the store key of the block at height.
func BlockKey(height uint64) []byte {
	return []byte(blockPrefix + strconv.FormatUint(height, 10))
}

// StateKey is the store key of a state entry.
func StateKey(key string) []byte {
	return []byte(statePrefix + key)
}

// AccountKey is the state key of an account.
func AccountKey(address string) string {
	return accountKeyPrefix + address
}

// ValidatorKey is the state key of a validator record.
func ValidatorKey(id string) string {
	return validatorKeyPrefix + id
}

// PutBlock durably stores an encoded block at height
func (r *LedgerRepository) PutBlock(height uint64, data []byte) error {
	if err := r.db.Put(BlockKey(height), data); err != nil {
		return fmt.Errorf("put block %d: %w", height, err)
	}
	r.blockCache.Add(height, cloneBytes(data))
	return nil
}

// GetBlock retrieves an encoded block by height
func (r *LedgerRepository) GetBlock(height uint64) ([]byte, bool, error) {
	if v, ok := r.blockCache.Get(height); ok {
		return cloneBytes(v.([]byte)), true, nil
	}
	data, found, err := r.get(BlockKey(height))
	if err != nil || !found {
		return nil, found, err
	}
	r.blockCache.Add(height, cloneBytes(data))
	return data, true, nil
}

// PutState durably stores a state value under key
func (r *LedgerRepository) PutState(key string, data []byte) error {
	if err := r.db.Put(StateKey(key), data); err != nil {
		return fmt.Errorf("put state %q: %w", key, err)
	}
	return nil
}

// GetState retrieves a state value by key
func (r *LedgerRepository) GetState(key string) ([]byte, bool, error) {
	return r.get(StateKey(key))
}

func (r *LedgerRepository) get(key []byte) ([]byte, bool, error) {
	data, err := r.db.Get(key)
	if db.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, true, nil
}

// CommitBlock writes the block, the accounts it touched and the new chain
// head in one synced batch. Either all of it is durable or none of it is.
func (r *LedgerRepository) CommitBlock(block *models.Block, accounts []*models.Account) error {
	blockData, err := json.Marshal(block)
	if err != nil {
		return err
	}
	head, err := json.Marshal(&models.ChainHead{Height: block.Height, Hash: block.Hash()})
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(BlockKey(block.Height), blockData)
	for _, acc := range accounts {
		data, err := json.Marshal(acc)
		if err != nil {
			return err
		}
		batch.Put(StateKey(AccountKey(acc.Address)), data)
	}
	batch.Put(StateKey(headKey), head)

	if err := r.db.Write(batch); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Height, err)
	}
	r.blockCache.Add(block.Height, blockData)
	return nil
}

// GetBlockAt retrieves and decodes the block at height
func (r *LedgerRepository) GetBlockAt(height uint64) (*models.Block, error) {
	data, found, err := r.GetBlock(height)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("block %d: %w", height, ErrNotFound)
	}
	var block models.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetHead returns the last committed block reference
func (r *LedgerRepository) GetHead() (*models.ChainHead, error) {
	var head models.ChainHead
	if err := r.getJSON(headKey, &head); err != nil {
		return nil, err
	}
	return &head, nil
}

// GetAccount retrieves an account by address
func (r *LedgerRepository) GetAccount(address string) (*models.Account, error) {
	var acc models.Account
	if err := r.getJSON(AccountKey(address), &acc); err != nil {
		return nil, err
	}
	acc.Balance = models.AmountOrZero(acc.Balance)
	return &acc, nil
}

// GetAllAccounts retrieves every account keyed by address
func (r *LedgerRepository) GetAllAccounts() (map[string]*models.Account, error) {
	iter := r.db.NewPrefixIterator(StateKey(accountKeyPrefix))
	defer iter.Release()

	accounts := make(map[string]*models.Account)
	for iter.Next() {
		var acc models.Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			return nil, err
		}
		acc.Balance = models.AmountOrZero(acc.Balance)
		accounts[acc.Address] = &acc
	}
	return accounts, iter.Error()
}

// PutValidator stores a validator record
func (r *LedgerRepository) PutValidator(v *models.Validator) error {
	return r.putJSON(ValidatorKey(v.ID), v)
}

// DeleteValidator removes a validator record
func (r *LedgerRepository) DeleteValidator(id string) error {
	if err := r.db.Delete(StateKey(ValidatorKey(id))); err != nil {
		return fmt.Errorf("delete validator %q: %w", id, err)
	}
	return nil
}

// GetAllValidators retrieves every validator record ordered by id
func (r *LedgerRepository) GetAllValidators() ([]*models.Validator, error) {
	iter := r.db.NewPrefixIterator(StateKey(validatorKeyPrefix))
	defer iter.Release()

	var validators []*models.Validator
	for iter.Next() {
		var v models.Validator
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, err
		}
		v.Stake = models.AmountOrZero(v.Stake)
		validators = append(validators, &v)
	}
	return validators, iter.Error()
}

// PutSnapshot replaces the latest snapshot; older ones are not retained
func (r *LedgerRepository) PutSnapshot(s *models.StateSnapshot) error {
	return r.putJSON(snapshotKey, s)
}

// GetLatestSnapshot retrieves the most recent snapshot
func (r *LedgerRepository) GetLatestSnapshot() (*models.StateSnapshot, error) {
	var s models.StateSnapshot
	if err := r.getJSON(snapshotKey, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *LedgerRepository) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.PutState(key, data)
}

func (r *LedgerRepository) getJSON(key string, v interface{}) error {
	data, found, err := r.GetState(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

func cloneBytes(b []byte) []byte {
	return append([]byte{}, b...)
}
