package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// CatalogEntry is one known piece of equipment with its knowledge atoms.
// An entry with a UserID is only matched for that user.
type CatalogEntry struct {
	Entity
	UserID       string          `json:"user_id,omitempty"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	Model        string          `json:"model,omitempty"`
	SerialNumber string          `json:"serial_number,omitempty"`
	Aliases      []string        `json:"aliases,omitempty"`
	Atoms        []KnowledgeAtom `json:"atoms,omitempty"`
}

// Catalog is a read-only, in-memory EntityMatcher and ContextSource.
type Catalog struct {
	entries []CatalogEntry
	byID    map[string]int
}

var (
	_ EntityMatcher = (*Catalog)(nil)
	_ ContextSource = (*Catalog)(nil)
)

// NewCatalog indexes entries. Entry IDs must be present and unique.
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]CatalogEntry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("duplicate catalog entry id %q", id)
		}
		e.ID = id
		c.byID[id] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// LoadCatalog reads a JSON catalog of the form {"entities": [...]} from fs.
func LoadCatalog(fs afero.Fs, path string) (*Catalog, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file struct {
		Entities []CatalogEntry `json:"entities"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewCatalog(file.Entities)
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Match implements EntityMatcher. A serial number match wins over
// manufacturer and model, which wins over an alias found in the extracted text.
func (c *Catalog) Match(ctx context.Context, userID string, extraction Extraction) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if extraction.IsEmpty() {
		return nil, nil
	}

	serial := normalize(extraction.SerialNumber)
	manufacturer := normalize(extraction.Manufacturer)
	model := normalize(extraction.Model)
	text := normalize(extraction.Text + " " + strings.Join(extraction.Observations, " "))

	var byModel, byAlias *CatalogEntry
	for i := range c.entries {
		e := &c.entries[i]
		if e.UserID != "" && e.UserID != userID {
			continue
		}
		if serial != "" && normalize(e.SerialNumber) == serial {
			return entityOf(e), nil
		}
		if byModel == nil && model != "" && normalize(e.Model) == model &&
			(manufacturer == "" || normalize(e.Manufacturer) == manufacturer) {
			byModel = e
		}
		if byAlias == nil && text != "" {
			for _, alias := range e.Aliases {
				if a := normalize(alias); a != "" && strings.Contains(text, a) {
					byAlias = e
					break
				}
			}
		}
	}

	switch {
	case byModel != nil:
		return entityOf(byModel), nil
	case byAlias != nil:
		return entityOf(byAlias), nil
	}
	return nil, nil
}

// FindAtoms implements ContextSource. Unknown entities have no atoms.
func (c *Catalog) FindAtoms(ctx context.Context, entity Entity) ([]KnowledgeAtom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if entity.ID == "" {
		return nil, errors.New("entity id cannot be empty")
	}
	i, ok := c.byID[entity.ID]
	if !ok {
		return nil, nil
	}
	return append([]KnowledgeAtom(nil), c.entries[i].Atoms...), nil
}

func entityOf(e *CatalogEntry) *Entity {
	entity := e.Entity
	return &entity
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
