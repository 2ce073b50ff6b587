package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxItems = "itemforge_items"

// Meili is the delivery index backed by Meilisearch. Document writes use
// AddDocuments, which upserts by primary key, so repeated syncs of the
// same item converge instead of erroring.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the items index.
// An unreachable server is logged, not fatal; the health loop retries.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("publish: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxItems,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("publish: create index %s (may already exist): %v", idxItems, err)
	}

	index := m.client.Index(idxItems)
	filterable := []interface{}{"testId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("publish: update filterable attrs for %s: %v", idxItems, err)
	}
	searchable := []string{"title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("publish: update searchable attrs for %s: %v", idxItems, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("publish: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Get fetches one delivered item. Returns (nil, nil) when the item has
// never been synced.
func (m *Meili) Get(ctx context.Context, id string) (*RemoteDocument, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	var doc RemoteDocument
	err := m.client.Index(idxItems).GetDocument(id, nil, &doc)
	if err != nil {
		var merr *meili.Error
		if errors.As(err, &merr) && merr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch get %s: %w", id, err)
	}
	return &doc, nil
}

// Upsert writes one delivered item, replacing any previous version.
func (m *Meili) Upsert(ctx context.Context, doc RemoteDocument) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxItems).AddDocuments([]RemoteDocument{doc}, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("meilisearch upsert %s: %w", doc.ID, err)
	}
	return nil
}
