package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/bimview/internal/assets"
)

// fixtureNode describes one glTF node of a test model.
type fixtureNode struct {
	name        string
	extras      string
	translation [3]float64
	noMesh      bool
	children    []uint32
}

// cubeDoc returns a document with one unit cube mesh and the given nodes in the default scene.
// Nodes referenced as children are left out of the scene root list.
func cubeDoc(nodes ...fixtureNode) *gltf.Document {
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	})
	idx := modeler.WriteIndices(doc, []uint32{
		0, 1, 2, 0, 2, 3, // front
		4, 6, 5, 4, 7, 6, // back
		0, 4, 5, 0, 5, 1, // bottom
		3, 2, 6, 3, 6, 7, // top
		0, 3, 7, 0, 7, 4, // left
		1, 5, 6, 1, 6, 2, // right
	})
	doc.Materials = append(doc.Materials, &gltf.Material{
		Name: "glass",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{0.2, 0.4, 0.6, 0.5},
		},
		AlphaMode: gltf.AlphaBlend,
	})
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "cube",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(idx),
			Attributes: map[string]uint32{gltf.POSITION: pos},
			Material:   gltf.Index(0),
		}},
	})

	child := make(map[uint32]bool)
	for _, n := range nodes {
		for _, c := range n.children {
			child[c] = true
		}
	}
	for i, n := range nodes {
		gn := &gltf.Node{Name: n.name, Translation: n.translation, Children: n.children}
		if !n.noMesh {
			gn.Mesh = gltf.Index(0)
		}
		if n.extras != "" {
			gn.Extras = json.RawMessage(n.extras)
		}
		doc.Nodes = append(doc.Nodes, gn)
		if !child[uint32(i)] {
			doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(i))
		}
	}
	return doc
}

func encodeGLB(t *testing.T, doc *gltf.Document) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))
	return buf.Bytes()
}

// encodeGLTF writes the JSON form with the buffer embedded as a data URI.
func encodeGLTF(t *testing.T, doc *gltf.Document) []byte {
	t.Helper()
	for _, b := range doc.Buffers {
		if b.URI == "" {
			b.URI = "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(b.Data)
		}
	}
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = false
	require.NoError(t, enc.Encode(doc))
	return buf.Bytes()
}

type fakeFetcher struct {
	files map[string][]byte
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[rawURL]
	if !ok {
		return nil, assets.ErrNotFound
	}
	return data, nil
}
