package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	ids := c.IDs()
	assert.Equal(t, []string{"researcherA", "researcherB", "researcherC"}, ids)

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, "Quantitative Methodologist", list[0].Title)
	assert.Equal(t, "researcherC", list[2].ID)
}

func TestCatalogGet(t *testing.T) {
	c := Default()

	p, err := c.Get("researcherB")
	require.NoError(t, err)
	assert.Equal(t, "Human-Centered Ethicist", p.Title)

	_, err = c.Get("researcherX")
	require.Error(t, err)

	var unknown *ErrUnknownPersona
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "researcherX", unknown.ID)
}

func TestCatalogFilter(t *testing.T) {
	c := Default()

	assert.Equal(t, []string{"researcherC", "researcherA"}, c.Filter([]string{"researcherC", "nope", "researcherA"}))
	assert.Empty(t, c.Filter([]string{"x", "y"}))
}

func TestNewCatalogDuplicateKeepsOrder(t *testing.T) {
	c := NewCatalog(
		Persona{ID: "a", Title: "first"},
		Persona{ID: "b", Title: "second"},
		Persona{ID: "a", Title: "replacement"},
	)

	assert.Equal(t, []string{"a", "b"}, c.IDs())

	p, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "replacement", p.Title)
}
