package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"
)

// JSONStore keeps the whole catalog in one document. Every mutation reads the
// document, changes it and rewrites it through a temp file and rename, so
// readers only ever see a complete document. mu serialises the
// read-modify-write cycle.
type JSONStore struct {
	mu   sync.RWMutex
	path string
}

type jsonDocument struct {
	NextID   int64        `json:"next_id"`
	Products []jsonRecord `json:"products"`
}

type jsonRecord struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category,omitempty"`
	ImageURL    string          `json:"image_url"`
	ImageKey    string          `json:"image_key,omitempty"`
}

func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	s := &JSONStore{path: path}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

func (s *JSONStore) Create(_ context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return Product{}, err
	}

	p.ID = doc.NextID
	doc.NextID++
	doc.Products = append(doc.Products, toRecord(p))

	if err := s.save(doc); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (s *JSONStore) List(context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]Product, 0, len(doc.Products))
	for _, r := range doc.Products {
		out = append(out, r.product())
	}
	return out, nil
}

func (s *JSONStore) Get(_ context.Context, id int64) (Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return Product{}, false, err
	}

	for _, r := range doc.Products {
		if r.ID == id {
			return r.product(), true, nil
		}
	}
	return Product{}, false, nil
}

func (s *JSONStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}

	kept := doc.Products[:0]
	found := false
	for _, r := range doc.Products {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return false, nil
	}
	doc.Products = kept

	return true, s.save(doc)
}

func (s *JSONStore) load() (jsonDocument, error) {
	doc := jsonDocument{NextID: 1}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read catalog: %w", err)
	}
	if len(raw) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode catalog %s: %w", s.path, err)
	}

	// Documents edited by hand may lack or lag the counter.
	for _, r := range doc.Products {
		if r.ID >= doc.NextID {
			doc.NextID = r.ID + 1
		}
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return doc, nil
}

func (s *JSONStore) save(doc jsonDocument) error {
	if doc.Products == nil {
		doc.Products = []jsonRecord{}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp catalog: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

func toRecord(p Product) jsonRecord {
	return jsonRecord{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
		ImageKey:    p.ImageKey,
	}
}

func (r jsonRecord) product() Product {
	return Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Category:    r.Category,
		ImageURL:    r.ImageURL,
		ImageKey:    r.ImageKey,
	}
}
