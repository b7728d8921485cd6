package mcpserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/isdmx/edabox/frame"
	"github.com/isdmx/edabox/memory"
)

// ErrDatasetNotLoaded is returned for ids that were never loaded in this process
var ErrDatasetNotLoaded = errors.New("dataset not loaded")

// Dataset is a loaded table and its identity
type Dataset struct {
	ID       string
	Name     string
	Frame    *frame.DataFrame
	LoadedAt time.Time
}

// Datasets holds the tables loaded through load_dataset. Frames are
// immutable, so one entry may serve concurrent executions.
type Datasets struct {
	mu    sync.RWMutex
	items map[string]*Dataset
}

// NewDatasets creates an empty registry
func NewDatasets() *Datasets {
	return &Datasets{items: make(map[string]*Dataset)}
}

// Load parses content and registers it under its content id. Loading the
// same bytes again replaces the name and keeps the id.
func (d *Datasets) Load(name string, content []byte) (*Dataset, error) {
	df, err := frame.ParseCSV(content)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		ID:       memory.DatasetID(content),
		Name:     name,
		Frame:    df,
		LoadedAt: time.Now(),
	}
	if ds.Name == "" {
		ds.Name = ds.ID
	}

	d.mu.Lock()
	d.items[ds.ID] = ds
	d.mu.Unlock()
	return ds, nil
}

// Get returns the dataset registered under id
func (d *Datasets) Get(id string) (*Dataset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ds, ok := d.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotLoaded, id)
	}
	return ds, nil
}

// Len returns the number of loaded datasets
func (d *Datasets) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}
