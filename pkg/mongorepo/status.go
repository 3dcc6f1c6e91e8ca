// Package mongorepo implements the component status repository of §4.10
// against MongoDB: one collection per component, a fixed-size reservoir
// trimmed on insert so history never grows past §4.5's ~288-sample budget
// (1 day at 5-minute cadence).
package mongorepo

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	mgo "gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/flowctl/core/pkg/registry"
	"github.com/flowctl/core/pkg/repository"
)

const ClassName = "mongo"

const defaultReservoirSize = 288

// Repository implements repository.ComponentStatusRepository against
// MongoDB.
type Repository struct {
	uri      string
	dbName   string
	reservoir int

	session *mgo.Session
}

func init() {
	registry.RegisterPlugin(registry.ComponentStatusRepoPlugin, ClassName, &Repository{}, true)
}

// Configure implements registry.Plugin. Expected keys: "uri", "database".
func (r *Repository) Configure(controllerID string, data map[string]interface{}) error {
	uri, _ := data["uri"].(string)
	if uri == "" {
		uri = "mongodb://127.0.0.1:27017"
	}
	r.uri = uri

	r.dbName, _ = data["database"].(string)
	if r.dbName == "" {
		r.dbName = "flowcontroller"
	}
	r.reservoir = defaultReservoirSize
	return nil
}

// Initialize opens the MongoDB session.
func (r *Repository) Initialize() error {
	session, err := mgo.Dial(r.uri)
	if err != nil {
		return errors.Annotate(err, "connect to mongo")
	}
	r.session = session
	log.Infof("[mongorepo] component status repository connected to %s", r.uri)
	return nil
}

type sample struct {
	Timestamp time.Time        `bson:"timestamp"`
	Fields    map[string]int64 `bson:"fields"`
}

// Capture inserts sample and trims the collection back to the reservoir
// size, oldest first.
func (r *Repository) Capture(componentID string, s repository.StatusSample) error {
	session := r.session.Copy()
	defer session.Close()
	c := session.DB(r.dbName).C("status_" + componentID)

	if err := c.Insert(sample{Timestamp: s.Timestamp, Fields: s.Fields}); err != nil {
		return errors.Annotatef(err, "insert status sample for %s", componentID)
	}

	count, err := c.Count()
	if err != nil {
		return errors.Trace(err)
	}
	if count <= r.reservoir {
		return nil
	}

	var oldest []bson.M
	excess := count - r.reservoir
	if err := c.Find(nil).Sort("timestamp").Limit(excess).Select(bson.M{"_id": 1}).All(&oldest); err != nil {
		return errors.Trace(err)
	}
	for _, doc := range oldest {
		if err := c.RemoveId(doc["_id"]); err != nil {
			log.Warnf("[mongorepo] trim failed for %s: %v", componentID, err)
		}
	}
	return nil
}

func (r *Repository) history(ctx context.Context, componentID string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	session := r.session.Copy()
	defer session.Close()
	c := session.DB(r.dbName).C("status_" + componentID)

	var docs []sample
	err := c.Find(bson.M{"timestamp": bson.M{"$gte": from, "$lte": to}}).
		Sort("timestamp").
		Limit(maxPoints).
		All(&docs)
	if err != nil {
		return nil, errors.Annotatef(err, "history query for %s", componentID)
	}

	out := make([]repository.StatusSample, len(docs))
	for i, d := range docs {
		out[i] = repository.StatusSample{Timestamp: d.Timestamp, Fields: d.Fields}
	}
	return out, nil
}

// GetConnectionStatusHistory implements repository.ComponentStatusRepository.
func (r *Repository) GetConnectionStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return r.history(ctx, id, from, to, maxPoints)
}

// GetProcessorStatusHistory implements repository.ComponentStatusRepository.
func (r *Repository) GetProcessorStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return r.history(ctx, id, from, to, maxPoints)
}

// GetProcessGroupStatusHistory implements repository.ComponentStatusRepository.
func (r *Repository) GetProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return r.history(ctx, id, from, to, maxPoints)
}

// GetRemoteProcessGroupStatusHistory implements repository.ComponentStatusRepository.
func (r *Repository) GetRemoteProcessGroupStatusHistory(ctx context.Context, id string, from, to time.Time, maxPoints int) ([]repository.StatusSample, error) {
	return r.history(ctx, id, from, to, maxPoints)
}

// Close releases the MongoDB session.
func (r *Repository) Close() error {
	if r.session != nil {
		r.session.Close()
	}
	return nil
}
