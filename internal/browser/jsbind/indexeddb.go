package jsbind

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/jsbox/internal/analysis/core"
	"github.com/xkilldash9x/jsbox/internal/analysis/dynamic"
	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// IndexedDB is mocked as one map per database/store pair. Requests complete
// from the job queue, firing onupgradeneeded and onsuccess in that order.

func installIndexedDB(s *Sandbox) error {
	idb := s.hostObject("IDBFactory")
	idb.Set("open", func(call goja.FunctionCall) goja.Value {
		name := argString(call, 0)
		if s.allow("indexedDB.open") {
			s.record(dynamic.EventIndexedDBOpen, "indexedDB.open", s.values(call.Arguments), jsvalue.Undefined(), 2,
				jsvalue.MapOf("database", name))
		}
		db := s.idbDatabase(name)
		return s.idbRequest("indexedDB.open", func() goja.Value { return db }, "upgradeneeded")
	})
	idb.Set("deleteDatabase", func(call goja.FunctionCall) goja.Value {
		name := argString(call, 0)
		for k := range s.idb {
			if strings.HasPrefix(k, name+"/") {
				delete(s.idb, k)
			}
		}
		return s.idbRequest("indexedDB.deleteDatabase", goja.Undefined)
	})
	idb.Set("databases", s.noop(func() goja.Value { return s.resolved(s.vm.NewArray()) }))
	return s.setGlobal("indexedDB", idb)
}

// idbRequest returns an IDBRequest whose result is produced and delivered
// by a queued job. Extra event names fire before success.
func (s *Sandbox) idbRequest(name string, result func() goja.Value, before ...string) *goja.Object {
	req := s.hostObject("IDBRequest")
	req.Set("result", goja.Undefined())
	req.Set("readyState", "pending")
	req.Set("error", goja.Null())
	s.jobs.Enqueue(name, func() error {
		req.Set("result", result())
		req.Set("readyState", "done")
		for _, typ := range append(before[:len(before):len(before)], "success") {
			h := req.Get("on" + typ)
			if h == nil {
				continue
			}
			evt := s.newEvent(typ, req)
			if _, err := s.callback(core.FamilyEvent, h, req, evt); err != nil {
				return err
			}
		}
		return nil
	})
	return req
}

func (s *Sandbox) idbDatabase(name string) *goja.Object {
	db := s.hostObject("IDBDatabase")
	db.Set("name", name)
	db.Set("version", 1)
	s.accessor(db, "objectStoreNames", func() goja.Value {
		var names []interface{}
		prefix := name + "/"
		for k := range s.idb {
			if store, ok := strings.CutPrefix(k, prefix); ok {
				names = append(names, store)
			}
		}
		return s.vm.NewArray(names...)
	}, nil)

	db.Set("createObjectStore", func(call goja.FunctionCall) goja.Value {
		store := argString(call, 0)
		keyPath := s.optString(call.Argument(1), "keyPath")
		return s.idbStore(name, store, keyPath)
	})
	db.Set("deleteObjectStore", func(call goja.FunctionCall) goja.Value {
		delete(s.idb, name+"/"+argString(call, 0))
		return goja.Undefined()
	})
	db.Set("transaction", func(call goja.FunctionCall) goja.Value {
		tx := s.hostObject("IDBTransaction")
		tx.Set("mode", argString(call, 1))
		tx.Set("objectStore", func(c goja.FunctionCall) goja.Value {
			return s.idbStore(name, argString(c, 0), "")
		})
		tx.Set("abort", s.noop(nil))
		tx.Set("commit", s.noop(nil))
		s.jobs.Enqueue("IDBTransaction.complete", func() error {
			if h := tx.Get("oncomplete"); h != nil {
				_, err := s.callback(core.FamilyEvent, h, tx, s.newEvent("complete", tx))
				return err
			}
			return nil
		})
		return tx
	})
	db.Set("close", s.noop(nil))
	return db
}

func (s *Sandbox) idbStore(db, store, keyPath string) *goja.Object {
	id := db + "/" + store
	data, ok := s.idb[id]
	if !ok {
		data = make(map[string]goja.Value)
		s.idb[id] = data
	}
	obj := s.hostObject("IDBObjectStore")
	obj.Set("name", store)
	obj.Set("keyPath", keyPath)

	write := func(method string) func(goja.FunctionCall) goja.Value {
		api := "IDBObjectStore." + method
		return func(call goja.FunctionCall) goja.Value {
			value := call.Argument(0)
			key := argString(call, 1)
			if keyPath != "" {
				key = s.optString(value, keyPath)
			}
			data[key] = value
			if s.allow(api) {
				rendered := s.value(value)
				sev, meta := storageScore(key, rendered.String())
				meta.Set("database", jsvalue.String(db))
				meta.Set("store", jsvalue.String(store))
				meta.Set("key", jsvalue.String(key))
				s.record(dynamic.EventIndexedDBWrite, api, []jsvalue.Value{rendered, jsvalue.String(key)}, jsvalue.Undefined(), sev, meta)
				s.track(rendered.String(), api)
			}
			return s.idbRequest(api, func() goja.Value { return s.vm.ToValue(key) })
		}
	}
	obj.Set("put", write("put"))
	obj.Set("add", write("add"))

	obj.Set("get", func(call goja.FunctionCall) goja.Value {
		key := argString(call, 0)
		value, found := data[key]
		if !found {
			value = goja.Undefined()
		}
		if s.allow("indexedDB.get") {
			result := s.value(value)
			args := []jsvalue.Value{jsvalue.String(key)}
			s.record(dynamic.EventIndexedDBRead, "indexedDB.get", args, result, 2,
				jsvalue.MapOf("database", db, "store", store, "found", found))
			s.chain("indexedDB.get", args, result)
		}
		return s.idbRequest("indexedDB.get", func() goja.Value { return value })
	})
	obj.Set("getAll", func(goja.FunctionCall) goja.Value {
		items := make([]interface{}, 0, len(data))
		for _, v := range data {
			items = append(items, v)
		}
		if s.allow("IDBObjectStore.getAll") {
			s.record(dynamic.EventIndexedDBRead, "IDBObjectStore.getAll", nil, jsvalue.Undefined(), 2,
				jsvalue.MapOf("database", db, "store", store, "count", len(items)))
		}
		return s.idbRequest("IDBObjectStore.getAll", func() goja.Value { return s.vm.NewArray(items...) })
	})
	obj.Set("delete", func(call goja.FunctionCall) goja.Value {
		delete(data, argString(call, 0))
		return s.idbRequest("IDBObjectStore.delete", goja.Undefined)
	})
	obj.Set("clear", func(goja.FunctionCall) goja.Value {
		for k := range data {
			delete(data, k)
		}
		return s.idbRequest("IDBObjectStore.clear", goja.Undefined)
	})
	obj.Set("count", func(goja.FunctionCall) goja.Value {
		n := len(data)
		return s.idbRequest("IDBObjectStore.count", func() goja.Value { return s.vm.ToValue(n) })
	})
	obj.Set("createIndex", s.noop(func() goja.Value { return s.fallback("IDBIndex", 1) }))
	return obj
}
