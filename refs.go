package banana

import "reflect"

// identity is a comparable key for a trackable object. Slices carry their
// length: a slice and a shorter prefix share a backing-array base but have
// different visible contents, so they must not be conflated into one
// reference.
type identity struct {
	ptr uintptr
	len int
}

// refMap is the encode-side reference table: object identity to the
// StructureId the object was first sent under.
type refMap struct {
	ids map[identity]uint64
}

func newRefMap() *refMap {
	return &refMap{ids: make(map[identity]uint64)}
}

// identityKey produces a comparable identity for a trackable object.
// Maps and pointers use their own address; slices use the address of
// their backing array plus their length, so two slice values are the same
// object only when they share storage, start and extent. Empty slices own
// no storage and are never tracked.
func identityKey(obj any) (identity, bool) {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Map, reflect.Pointer, reflect.UnsafePointer, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return identity{}, false
		}
		return identity{ptr: v.Pointer(), len: -1}, true
	case reflect.Slice:
		if v.Cap() == 0 {
			return identity{}, false
		}
		return identity{ptr: v.Pointer(), len: v.Len()}, true
	}
	return identity{}, false
}

func (m *refMap) lookup(obj any) (uint64, bool) {
	k, ok := identityKey(obj)
	if !ok {
		return 0, false
	}
	id, ok := m.ids[k]
	return id, ok
}

func (m *refMap) register(id uint64, obj any) {
	if k, ok := identityKey(obj); ok {
		m.ids[k] = id
	}
}

// refTable is the decode-side reference table: StructureId to the decoded
// object, or to a *Deferred placeholder while its structure is open.
// Entries live until connection teardown.
type refTable struct {
	objects map[uint64]any
}

func newRefTable() *refTable {
	return &refTable{objects: make(map[uint64]any)}
}

func (t *refTable) set(id uint64, obj any) {
	t.objects[id] = obj
}

func (t *refTable) get(id uint64) (any, bool) {
	o, ok := t.objects[id]
	return o, ok
}
