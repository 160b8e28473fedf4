package schema

import (
	"fmt"

	"github.com/roach88/gunrelay/internal/graph"
)

// DomainThing separates thing id hashes from other content addresses.
const DomainThing = "gunrelay/thing/v1"

// Thing routes. A thing is a root node holding a "data" link and a data
// node holding the actual fields.
var (
	ThingRoute     = NewRoute("nab/things/:thingId")
	ThingDataRoute = NewRoute("nab/things/:thingId/data")
)

// ThingPrefix is where thing root souls start in key order.
var ThingPrefix = ThingRoute.Prefix()

// ThingSoul returns the root soul for thingID.
// Returns ok=false for a malformed id (empty or containing "/").
func ThingSoul(thingID string) (string, bool) {
	return ThingRoute.Reverse(map[string]string{"thingId": thingID})
}

// ThingDataSoul returns the data node soul for thingID.
func ThingDataSoul(thingID string) (string, bool) {
	return ThingDataRoute.Reverse(map[string]string{"thingId": thingID})
}

// ThingID returns the thing id a root soul belongs to.
// Data souls and unrelated souls yield ok=false.
func ThingID(soul string) (string, bool) {
	params, ok := ThingRoute.Match(soul)
	if !ok {
		return "", false
	}
	return params["thingId"], true
}

// ThingFields are the identifying fields hashed into a thing id.
type ThingFields struct {
	Kind      string
	Topic     string
	AuthorID  string
	ReplyToID string
	Timestamp int64
	Body      string
	Title     string
	URL       string
}

// ComputeThingID derives the content-addressed id for a new thing.
// The same fields always produce the same id on every replica.
func ComputeThingID(f ThingFields) (string, error) {
	if f.Kind == "" {
		return "", fmt.Errorf("compute thing id: kind is required")
	}
	obj := map[string]any{
		"kind":      f.Kind,
		"timestamp": f.Timestamp,
	}
	optional := map[string]string{
		"topic":     f.Topic,
		"authorId":  f.AuthorID,
		"replyToId": f.ReplyToID,
		"body":      f.Body,
		"title":     f.Title,
		"url":       f.URL,
	}
	for k, v := range optional {
		if v != "" {
			obj[k] = v
		}
	}
	id, err := graph.ContentAddress(DomainThing, obj)
	if err != nil {
		return "", fmt.Errorf("compute thing id: %w", err)
	}
	return id, nil
}
