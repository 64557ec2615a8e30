package persona

import "fmt"

// Persona is a fixed analytical viewpoint assigned an id. Instances are
// immutable after catalog construction.
type Persona struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Focus       string `json:"focus"`
}

// ErrUnknownPersona is returned when a lookup names an id the catalog does not contain.
type ErrUnknownPersona struct {
	ID string
}

// Error implements the error interface.
func (e *ErrUnknownPersona) Error() string {
	return fmt.Sprintf("unknown persona %q", e.ID)
}

// Catalog is a read-only registry of personas. The zero value is unusable;
// construct via NewCatalog or use Default.
type Catalog struct {
	order    []string
	personas map[string]Persona
}

// NewCatalog builds a catalog from the given personas, preserving order.
// Later duplicates of an id replace earlier entries without reordering.
func NewCatalog(personas ...Persona) *Catalog {
	c := &Catalog{personas: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		if _, ok := c.personas[p.ID]; !ok {
			c.order = append(c.order, p.ID)
		}
		c.personas[p.ID] = p
	}
	return c
}

// List returns all personas in registration order.
func (c *Catalog) List() []Persona {
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.personas[id])
	}
	return out
}

// IDs returns all persona ids in registration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Get returns the persona registered under id.
func (c *Catalog) Get(id string) (Persona, error) {
	p, ok := c.personas[id]
	if !ok {
		return Persona{}, &ErrUnknownPersona{ID: id}
	}
	return p, nil
}

// Has reports whether id is registered.
func (c *Catalog) Has(id string) bool {
	_, ok := c.personas[id]
	return ok
}

// Filter returns the subset of ids present in the catalog, preserving the
// order of the input. Unknown ids are dropped silently; the caller decides
// whether an empty result is an error.
func (c *Catalog) Filter(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if c.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Default returns the built-in catalog of the three research personas.
func Default() *Catalog {
	return NewCatalog(
		Persona{
			ID:          "researcherA",
			Title:       "Quantitative Methodologist",
			Description: "You prioritize rigorous statistical reasoning, data validation, and methodological transparency.",
			Focus:       "Highlight dataset quality, statistical significance, and potential biases in the conversation.",
		},
		Persona{
			ID:          "researcherB",
			Title:       "Human-Centered Ethicist",
			Description: "You emphasize ethical implications, societal impact, and stakeholder perspectives.",
			Focus:       "Surface risks, equity concerns, and long-term effects on people or communities.",
		},
		Persona{
			ID:          "researcherC",
			Title:       "Systems Architect",
			Description: "You examine technical feasibility, scalability, and systems integration challenges.",
			Focus:       "Assess architecture trade-offs, implementation hurdles, and performance considerations.",
		},
	)
}
