// Package survey holds the static question catalog customers answer before
// a meeting. Stage-1 question sets are keyed by (industry, revenue bracket);
// stage-2 follow-ups are kept apart and chained to a stage-1 item.
package survey

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoItems means the catalog has no question set for the requested pair.
var ErrNoItems = errors.New("no survey items for criteria")

//go:embed catalog.json
var defaultCatalog []byte

type Question struct {
	ID            int64  `json:"id"`
	Question      string `json:"question"`
	RelatedItemID *int64 `json:"related_item_id,omitempty"`
}

type Item struct {
	ID            int64
	Industry      string
	Revenue       string
	Question      string
	RelatedItemID *int64
}

type dataset struct {
	Version   string            `json:"version"`
	Sets      []datasetSet      `json:"sets"`
	FollowUps []datasetQuestion `json:"followups"`
}

type datasetSet struct {
	Industry  string            `json:"industry"`
	Revenue   string            `json:"revenue"`
	Questions []datasetQuestion `json:"questions"`
}

type datasetQuestion struct {
	ID        int64  `json:"id"`
	Question  string `json:"question"`
	RelatedTo *int64 `json:"related_to,omitempty"`
}

// Catalog is immutable after Load and safe for concurrent use.
type Catalog struct {
	version string
	items   []Item
	byKey   map[string][]int
	byID    map[int64]int
}

func (c *Catalog) add(it Item) error {
	if it.ID <= 0 {
		return fmt.Errorf("survey catalog: question %q has no id", it.Question)
	}
	if _, dup := c.byID[it.ID]; dup {
		return fmt.Errorf("survey catalog: duplicate id %d", it.ID)
	}
	c.byID[it.ID] = len(c.items)
	c.items = append(c.items, it)
	return nil
}

func key(industry, revenue string) string {
	return industry + "\x1f" + revenue
}

func Load(r io.Reader) (*Catalog, error) {
	var ds dataset
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode survey catalog: %w", err)
	}
	if strings.TrimSpace(ds.Version) == "" {
		return nil, errors.New("survey catalog: version is required")
	}

	c := &Catalog{
		version: ds.Version,
		byKey:   map[string][]int{},
		byID:    map[int64]int{},
	}
	for _, set := range ds.Sets {
		industry := strings.TrimSpace(set.Industry)
		revenue := strings.TrimSpace(set.Revenue)
		if industry == "" || revenue == "" {
			return nil, fmt.Errorf("survey catalog: set with empty industry or revenue")
		}
		k := key(industry, revenue)
		for _, q := range set.Questions {
			if err := c.add(Item{
				ID:            q.ID,
				Industry:      industry,
				Revenue:       revenue,
				Question:      q.Question,
				RelatedItemID: q.RelatedTo,
			}); err != nil {
				return nil, err
			}
			c.byKey[k] = append(c.byKey[k], len(c.items)-1)
		}
	}
	for _, q := range ds.FollowUps {
		if q.RelatedTo == nil {
			return nil, fmt.Errorf("survey catalog: follow-up %d has no related_to", q.ID)
		}
		parent, ok := c.byID[*q.RelatedTo]
		if !ok {
			return nil, fmt.Errorf("survey catalog: follow-up %d relates to unknown id %d", q.ID, *q.RelatedTo)
		}
		if err := c.add(Item{
			ID:            q.ID,
			Industry:      c.items[parent].Industry,
			Revenue:       c.items[parent].Revenue,
			Question:      q.Question,
			RelatedItemID: q.RelatedTo,
		}); err != nil {
			return nil, err
		}
	}
	for _, it := range c.items {
		if it.RelatedItemID != nil {
			if _, ok := c.byID[*it.RelatedItemID]; !ok {
				return nil, fmt.Errorf("survey catalog: item %d relates to unknown id %d", it.ID, *it.RelatedItemID)
			}
		}
	}
	return c, nil
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile reads a catalog from path, falling back to the embedded dataset
// when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (c *Catalog) Version() string { return c.version }

func (c *Catalog) Len() int { return len(c.items) }

func (it Item) question() Question {
	return Question{ID: it.ID, Question: it.Question, RelatedItemID: it.RelatedItemID}
}

// Questions returns every row of the stage-1 set for an exact (industry,
// revenue) match, in catalog order. Rows keep related_item_id so clients can
// chain them.
func (c *Catalog) Questions(industry, revenue string) ([]Question, error) {
	idx := c.byKey[key(strings.TrimSpace(industry), strings.TrimSpace(revenue))]
	if len(idx) == 0 {
		return nil, ErrNoItems
	}
	out := make([]Question, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.items[i].question())
	}
	return out, nil
}

// FollowUps returns the items chained to any of parentIDs, in catalog order.
func (c *Catalog) FollowUps(parentIDs []int64) []Question {
	want := make(map[int64]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		want[id] = struct{}{}
	}
	out := []Question{}
	for _, it := range c.items {
		if it.RelatedItemID == nil {
			continue
		}
		if _, ok := want[*it.RelatedItemID]; ok {
			out = append(out, it.question())
		}
	}
	return out
}
