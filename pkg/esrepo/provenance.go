// Package esrepo implements the provenance repository of §4.10 against
// Elasticsearch: one document per event in a date-rolled index, queried
// by a range+sort search.
package esrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/errors"
	elastic "github.com/olivere/elastic/v7"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/contentclaim"
	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/repository"
)

const ClassName = "elasticsearch"

const indexPrefix = "flowcontroller-provenance-"

// Repository implements repository.ProvenanceRepository against an
// Elasticsearch cluster.
type Repository struct {
	urls   []string
	client *elastic.Client
}

func init() {
	registry.RegisterPlugin(registry.ProvenanceRepoPlugin, ClassName, &Repository{}, true)
}

// Configure implements registry.Plugin. Expected key: "urls" ([]string or
// []interface{} of strings).
func (r *Repository) Configure(controllerID string, data map[string]interface{}) error {
	switch v := data["urls"].(type) {
	case []string:
		r.urls = v
	case []interface{}:
		for _, u := range v {
			if s, ok := u.(string); ok {
				r.urls = append(r.urls, s)
			}
		}
	}
	if len(r.urls) == 0 {
		r.urls = []string{"http://127.0.0.1:9200"}
	}
	return nil
}

// Initialize opens the Elasticsearch client.
func (r *Repository) Initialize() error {
	client, err := elastic.NewClient(elastic.SetURL(r.urls...), elastic.SetSniff(false))
	if err != nil {
		return errors.Annotate(err, "connect to elasticsearch")
	}
	r.client = client
	log.Infof("[esrepo] provenance repository connected to %v", r.urls)
	return nil
}

func indexName(t time.Time) string {
	return indexPrefix + t.UTC().Format("2006.01.02")
}

// claimDoc mirrors contentclaim.Claim's fields for storage; a provenance
// event with no previous claim (a CREATE event, say) stores a nil pointer
// rather than a zero-valued claim, so Replay's "missing previous content
// claim" check still rejects it correctly after the round trip.
type claimDoc struct {
	Container    string `json:"container"`
	Section      string `json:"section"`
	Identifier   string `json:"identifier"`
	LossTolerant bool   `json:"loss_tolerant"`
}

type document struct {
	ID                  int64             `json:"id"`
	Type                string            `json:"type"`
	Timestamp           time.Time         `json:"timestamp"`
	FlowFileUUID        string            `json:"flowfile_uuid"`
	ParentUUIDs         []string          `json:"parent_uuids"`
	ChildUUIDs          []string          `json:"child_uuids"`
	SourceQueueID       string            `json:"source_queue_id"`
	PreviousClaim       *claimDoc         `json:"previous_claim,omitempty"`
	PreviousClaimOffset int64             `json:"previous_claim_offset"`
	PreviousClaimSize   int64             `json:"previous_claim_size"`
	LineageIdentifiers  []string          `json:"lineage_identifiers"`
	LineageStartDate    time.Time         `json:"lineage_start_date"`
	Attributes          map[string]string `json:"attributes"`
}

// RegisterEvent indexes event into the day's rolling index.
func (r *Repository) RegisterEvent(event repository.ProvenanceEvent) error {
	ctx := context.Background()
	doc := document{
		ID:                  event.ID,
		Type:                event.Type,
		Timestamp:           event.Timestamp,
		FlowFileUUID:        event.FlowFileUUID,
		ParentUUIDs:         event.ParentUUIDs,
		ChildUUIDs:          event.ChildUUIDs,
		SourceQueueID:       event.SourceQueueID,
		PreviousClaimOffset: event.PreviousClaimOffset,
		PreviousClaimSize:   event.PreviousClaimSize,
		LineageIdentifiers:  event.LineageIdentifiers,
		LineageStartDate:    event.LineageStartDate,
		Attributes:          event.Attributes,
	}
	if event.PreviousClaim != nil {
		doc.PreviousClaim = &claimDoc{
			Container:    event.PreviousClaim.Container,
			Section:      event.PreviousClaim.Section,
			Identifier:   event.PreviousClaim.Identifier,
			LossTolerant: event.PreviousClaim.LossTolerant,
		}
	}
	_, err := r.client.Index().
		Index(indexName(event.Timestamp)).
		Id(fmt.Sprintf("%d", event.ID)).
		BodyJson(doc).
		Do(ctx)
	return errors.Annotatef(err, "index provenance event %d", event.ID)
}

// GetEvent retrieves a single event by id by searching across all
// provenance indices.
func (r *Repository) GetEvent(id int64) (repository.ProvenanceEvent, error) {
	ctx := context.Background()
	result, err := r.client.Search(indexPrefix+"*").
		Query(elastic.NewTermQuery("id", id)).
		Size(1).
		Do(ctx)
	if err != nil {
		return repository.ProvenanceEvent{}, errors.Annotatef(err, "get provenance event %d", id)
	}
	if result.TotalHits() == 0 {
		return repository.ProvenanceEvent{}, errors.NotFoundf("provenance event %d", id)
	}
	return toEvent(result.Hits.Hits[0])
}

// GetEvents returns up to maxResults events with id >= firstID, ordered by
// id ascending.
func (r *Repository) GetEvents(firstID int64, maxResults int) ([]repository.ProvenanceEvent, error) {
	ctx := context.Background()
	result, err := r.client.Search(indexPrefix+"*").
		Query(elastic.NewRangeQuery("id").Gte(firstID)).
		Sort("id", true).
		Size(maxResults).
		Do(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "get provenance events")
	}
	events := make([]repository.ProvenanceEvent, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		event, err := toEvent(hit)
		if err != nil {
			return nil, errors.Trace(err)
		}
		events = append(events, event)
	}
	return events, nil
}

func toEvent(hit *elastic.SearchHit) (repository.ProvenanceEvent, error) {
	var doc document
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return repository.ProvenanceEvent{}, errors.Trace(err)
	}
	event := repository.ProvenanceEvent{
		ID:                  doc.ID,
		Type:                doc.Type,
		Timestamp:           doc.Timestamp,
		FlowFileUUID:        doc.FlowFileUUID,
		ParentUUIDs:         doc.ParentUUIDs,
		ChildUUIDs:          doc.ChildUUIDs,
		SourceQueueID:       doc.SourceQueueID,
		PreviousClaimOffset: doc.PreviousClaimOffset,
		PreviousClaimSize:   doc.PreviousClaimSize,
		LineageIdentifiers:  doc.LineageIdentifiers,
		LineageStartDate:    doc.LineageStartDate,
		Attributes:          doc.Attributes,
	}
	if doc.PreviousClaim != nil {
		event.PreviousClaim = &contentclaim.Claim{
			Container:    doc.PreviousClaim.Container,
			Section:      doc.PreviousClaim.Section,
			Identifier:   doc.PreviousClaim.Identifier,
			LossTolerant: doc.PreviousClaim.LossTolerant,
		}
	}
	return event, nil
}

// Close shuts down the Elasticsearch client's idle connections.
func (r *Repository) Close() error {
	if r.client != nil {
		r.client.Stop()
	}
	return nil
}
