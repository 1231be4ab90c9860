package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	ID        string
	Name      string
	Type      string
	Active    bool
	IconClass string
	Layers    []layer
	Children  []node
}

type info struct{ Source, Link string }

type layer struct {
	ID          string
	Name        string
	OpacityText int
	Info        info
}

type view struct {
	Session string
	Tree    []node
	Active  map[string]bool
}

func TestDefault_layerTree(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	html, err := r.Render("layer-tree", view{
		Session: "s1",
		Active:  map[string]bool{"1": true},
		Tree: []node{{
			ID: "10", Name: "Climate", Type: "group", Active: true,
			Children: []node{{
				ID: "11", Name: "Forests", Type: "category",
				Layers: []layer{
					{ID: "1", Name: "Rivers", OpacityText: 100},
					{ID: "2", Name: "Mangroves", OpacityText: 50, Info: info{Source: "GFW", Link: "https://example.org"}},
				},
			}},
		}},
	})
	require.NoError(t, err)

	assert.Contains(t, html, `id="group-10" class="group group-group open"`)
	assert.Contains(t, html, `id="group-11" class="group group-category"`)
	assert.Contains(t, html, `id="layer-1" class="layer active"`)
	assert.Contains(t, html, `id="layer-2" class="layer"`)
	assert.Contains(t, html, `/api/v1/viewer/sessions/s1/layers/2/toggle`)
	assert.Contains(t, html, `<a class="source" href="https://example.org">GFW</a>`)
}

func TestDefault_emptyState(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	html, err := r.Render("empty-state", map[string]string{"Title": "No layers", "Message": "Pick <one>"})
	require.NoError(t, err)
	assert.Equal(t, `<div class="empty-state"><strong>No layers</strong> <span>Pick &lt;one&gt;</span></div>`, html)

	_, err = r.Render("missing", nil)
	assert.Error(t, err)
}

func TestNewAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.html")
	require.NoError(t, os.WriteFile(path, []byte(`{{define "x"}}one{{end}}`), 0o644))

	r, err := New(dir)
	require.NoError(t, err)
	out, err := r.Render("x", nil)
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	require.NoError(t, os.WriteFile(path, []byte(`{{define "x"}}two{{end}}`), 0o644))
	require.NoError(t, r.Reload(dir))
	out, err = r.Render("x", nil)
	require.NoError(t, err)
	assert.Equal(t, "two", out)

	_, err = New(t.TempDir())
	assert.Error(t, err, "no templates to parse")
}
