package arraymem

import (
	"encoding/gob"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/golang/snappy"

	"github.com/misev/asqldb/pkg/types"
)

type snapshotObject struct {
	OID      int64
	CellType types.ScalarType
	Domain   types.Sdom
	Cells    []float64
}

type snapshotCollection struct {
	Name    string
	Type    string
	Objects []snapshotObject
}

type snapshot struct {
	NextOID     int64
	Collections []snapshotCollection
}

// Snapshot writes every collection to w as a snappy-framed gob stream.
func (e *Engine) Snapshot(w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := snapshot{NextOID: e.nextOID}
	for _, c := range e.collections {
		sc := snapshotCollection{Name: c.name, Type: c.typ.Name}
		for _, oid := range c.oids() {
			arr := c.objects[oid]
			sc.Objects = append(sc.Objects, snapshotObject{
				OID: oid, CellType: arr.CellType, Domain: arr.Domain, Cells: arr.Cells,
			})
		}
		snap.Collections = append(snap.Collections, sc)
	}
	sort.Slice(snap.Collections, func(i, j int) bool {
		return snap.Collections[i].Name < snap.Collections[j].Name
	})
	// cell slices are shared with the engine, so encoding stays under the lock
	sw := snappy.NewBufferedWriter(w)
	if err := gob.NewEncoder(sw).Encode(&snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	log.Printf("arraymem: snapshot of %d collections written", len(snap.Collections))
	return nil
}

// Restore replaces the engine's collections with a snapshot read from r.
func (e *Engine) Restore(r io.Reader) error {
	var snap snapshot
	if err := gob.NewDecoder(snappy.NewReader(r)).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	collections := make(map[string]*collection, len(snap.Collections))
	for _, sc := range snap.Collections {
		typ, err := ParseCollectionType(sc.Type)
		if err != nil {
			return fmt.Errorf("restore %s: %w", sc.Name, err)
		}
		c := newCollection(sc.Name, typ)
		for _, o := range sc.Objects {
			if int64(len(o.Cells)) != o.Domain.Cells() {
				return fmt.Errorf("restore %s:%d: %d cells for domain %s", sc.Name, o.OID, len(o.Cells), o.Domain)
			}
			c.objects[o.OID] = &types.MArray{CellType: o.CellType, Domain: o.Domain, Cells: o.Cells}
		}
		collections[key(sc.Name)] = c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections = collections
	if snap.NextOID > e.nextOID {
		e.nextOID = snap.NextOID
	}
	log.Printf("arraymem: restored %d collections", len(collections))
	return nil
}
