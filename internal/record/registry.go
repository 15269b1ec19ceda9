package record

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/graknol/declarative-sqlite-go/internal/ddbengine"
	"github.com/graknol/declarative-sqlite-go/internal/ddbschema"
	"github.com/graknol/declarative-sqlite-go/internal/fileset"
)

// Factory builds a T from a loaded Record.
type Factory[T any] func(*Record) (T, error)

var (
	registryMu        sync.RWMutex
	registryFactories = map[reflect.Type]func(*Record) (any, error){}
)

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Register installs factory as the process-wide constructor for T. Typical
// usage registers one factory per typed-record struct during package init.
func Register[T any](factory Factory[T]) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registryFactories[typeKey[T]()] = func(r *Record) (any, error) { return factory(r) }
}

func lookup[T any]() (Factory[T], bool) {
	registryMu.RLock()
	raw, ok := registryFactories[typeKey[T]()]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return func(r *Record) (T, error) {
		v, err := raw(r)
		if err != nil {
			var zero T
			return zero, err
		}
		return v.(T), nil
	}, true
}

// mustLookup panics on a missing registration: a missing factory is a
// programmer error that must fail loudly on first use, not be silently
// tolerated.
func mustLookup[T any]() Factory[T] {
	factory, ok := lookup[T]()
	if !ok {
		var zero T
		panic(fmt.Sprintf("record: no typed factory registered for %T", zero))
	}
	return factory
}

// QueryTypedTable selects every row of table via engine.QueryTable and
// applies T's registered factory to each row.
func QueryTypedTable[T any](engine *ddbengine.Engine, table ddbschema.Table, repo fileset.Repository) ([]T, error) {
	factory := mustLookup[T]()

	rows, err := engine.QueryTable(table.Name)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(rows))
	for _, row := range rows {
		rec := FromRow(engine, table, repo, row)
		v, err := factory(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
