package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout. Numeric ids are zero-padded so that lexical order matches
// numeric order, which keeps tick scans chronological.
const (
	keyProductSeq      = "seq:product"
	prefixProduct      = "product:"
	prefixURL          = "url:"
	prefixTick         = "tick:"
	prefixSub          = "sub:"
	prefixUserSub      = "usub:"
	prefixUser         = "user:"
	prefixNotification = "notif:"
)

func productKey(id uint64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixProduct, id)) }
func urlKey(url string) []byte    { return []byte(prefixURL + url) }
func userKey(id int64) []byte     { return []byte(fmt.Sprintf("%s%d", prefixUser, id)) }

func tickPrefix(productID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixTick, productID))
}

func tickKey(productID uint64, at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixTick, productID, at.UnixNano()))
}

func subPrefix(productID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixSub, productID))
}

func subKey(productID uint64, userID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%d", prefixSub, productID, userID))
}

func userSubPrefix(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%d:", prefixUserSub, userID))
}

func userSubKey(userID int64, productID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d:%020d", prefixUserSub, userID, productID))
}

func notificationPrefix(userID int64) []byte {
	return []byte(fmt.Sprintf("%s%d:", prefixNotification, userID))
}

func notificationKey(userID int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", prefixNotification, userID, id))
}

// getJSON loads key into v, mapping a missing key to ErrNotFound.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", string(key), err)
		}
		return nil
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", string(key), err)
	}
	return txn.Set(key, data)
}

// scanJSON calls fn with every key/value under prefix in key order.
func scanJSON(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// scanKeys calls fn with every key under prefix without loading values.
func scanKeys(txn *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item().KeyCopy(nil)); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	var keys [][]byte
	if err := scanKeys(txn, prefix, func(key []byte) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
