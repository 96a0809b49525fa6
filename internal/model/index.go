package model

import (
	"slices"
	"weak"

	"github.com/Faultbox/bimview/internal/engine/scene"
	"github.com/Faultbox/bimview/internal/props"
)

// element is the loader's per-element source data.
type element struct {
	id       string
	nodeName string
	extras   *props.Bag
	node     weak.Pointer[scene.Node]
}

// Index maps element ids to scene nodes without keeping the nodes alive.
type Index struct {
	elements map[string]*element
	order    []string
}

func newIndex() *Index {
	return &Index{elements: make(map[string]*element)}
}

func (ix *Index) add(el *element) {
	ix.elements[el.id] = el
	ix.order = append(ix.order, el.id)
}

// Lookup returns the node for id, or nil when the id is unknown or the node was collected.
func (ix *Index) Lookup(id string) *scene.Node {
	if ix == nil {
		return nil
	}
	el, ok := ix.elements[id]
	if !ok {
		return nil
	}
	return el.node.Value()
}

// Has reports whether id is indexed.
func (ix *Index) Has(id string) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.elements[id]
	return ok
}

// IDs returns the element ids in sorted order.
func (ix *Index) IDs() []string {
	if ix == nil {
		return nil
	}
	ids := slices.Clone(ix.order)
	slices.Sort(ids)
	return ids
}

// Len returns the number of elements.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.elements)
}

func weakNode(n *scene.Node) weak.Pointer[scene.Node] {
	return weak.Make(n)
}
