package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/quaketrack/quaketrack/internal/quake"
)

// Keys under which a wrapping object may carry the event list.
var listKeys = []string{"features", "events", "data"}

// Field-name variants accepted for flat event objects, in lookup order.
var (
	latKeys = []string{"latitude", "lat"}
	lonKeys = []string{"longitude", "lon", "lng", "long"}
	magKeys = []string{"magnitude", "mag"}
)

// Decode normalizes a feed body into events. The body must be a JSON array
// of events or an object wrapping that array under one of listKeys. Each
// element is either a flat object or a GeoJSON Feature.
func Decode(body []byte) ([]quake.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, parseErr(fmt.Errorf("decode body: %w", err))
	}
	if dec.More() {
		return nil, parseErr(errors.New("trailing data after JSON value"))
	}

	items, err := eventList(root)
	if err != nil {
		return nil, err
	}

	events := make([]quake.Event, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, schemaErr("item %d: expected object, got %s", i, jsonType(item))
		}
		var ev quake.Event
		if _, isFeature := obj["geometry"]; isFeature {
			ev, err = featureEvent(obj, i)
		} else {
			ev, err = flatEvent(obj, i)
		}
		if err != nil {
			return nil, err
		}
		if err := ev.Validate(); err != nil {
			return nil, schemaErr("item %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func eventList(root any) ([]any, error) {
	switch v := root.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range listKeys {
			raw, ok := v[key]
			if !ok {
				continue
			}
			list, ok := raw.([]any)
			if !ok {
				return nil, schemaErr("%q: expected array, got %s", key, jsonType(raw))
			}
			return list, nil
		}
		return nil, schemaErr("object has no event list (want one of %v)", listKeys)
	default:
		return nil, schemaErr("expected array or object, got %s", jsonType(root))
	}
}

func flatEvent(obj map[string]any, idx int) (quake.Event, error) {
	lat, err := requireNumber(obj, latKeys, idx)
	if err != nil {
		return quake.Event{}, err
	}
	lon, err := requireNumber(obj, lonKeys, idx)
	if err != nil {
		return quake.Event{}, err
	}
	mag, err := requireNumber(obj, magKeys, idx)
	if err != nil {
		return quake.Event{}, err
	}
	depth, _ := optionalNumber(obj["depth"])
	return quake.Event{
		ID:        eventID(obj["id"], idx),
		Latitude:  lat,
		Longitude: lon,
		Magnitude: mag,
		Depth:     depth,
		Place:     optionalString(obj["place"]),
		Time:      optionalTime(obj["time"]),
	}, nil
}

func featureEvent(obj map[string]any, idx int) (quake.Event, error) {
	geometry, ok := obj["geometry"].(map[string]any)
	if !ok {
		return quake.Event{}, schemaErr("item %d: geometry is not an object", idx)
	}
	coords, ok := geometry["coordinates"].([]any)
	if !ok || len(coords) < 2 {
		return quake.Event{}, schemaErr("item %d: geometry.coordinates must be [lon, lat, ...]", idx)
	}
	lon, ok := optionalNumber(coords[0])
	if !ok {
		return quake.Event{}, schemaErr("item %d: longitude is %s, want number", idx, jsonType(coords[0]))
	}
	lat, ok := optionalNumber(coords[1])
	if !ok {
		return quake.Event{}, schemaErr("item %d: latitude is %s, want number", idx, jsonType(coords[1]))
	}
	var depth float64
	if len(coords) > 2 {
		depth, _ = optionalNumber(coords[2])
	}

	props, _ := obj["properties"].(map[string]any)
	if props == nil {
		return quake.Event{}, schemaErr("item %d: feature has no properties", idx)
	}
	mag, err := requireNumber(props, magKeys, idx)
	if err != nil {
		return quake.Event{}, err
	}

	return quake.Event{
		ID:        eventID(obj["id"], idx),
		Latitude:  lat,
		Longitude: lon,
		Magnitude: mag,
		Depth:     depth,
		Place:     optionalString(props["place"]),
		Time:      optionalTime(props["time"]),
	}, nil
}

// requireNumber returns the first present key among keys; it must be a JSON
// number (numeric strings are rejected).
func requireNumber(obj map[string]any, keys []string, idx int) (float64, error) {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		f, ok := optionalNumber(raw)
		if !ok {
			return 0, schemaErr("item %d: %q is %s, want number", idx, key, jsonType(raw))
		}
		return f, nil
	}
	return 0, schemaErr("item %d: missing field (one of %v)", idx, keys)
}

func optionalNumber(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

func optionalString(v any) string {
	s, _ := v.(string)
	return s
}

// optionalTime accepts epoch milliseconds or an RFC 3339 string.
func optionalTime(v any) time.Time {
	switch t := v.(type) {
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}
		}
		return time.UnixMilli(ms).UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}
		}
		return parsed.UTC()
	}
	return time.Time{}
}

// AtLeast returns the events with magnitude >= minMag, keeping order.
// A non-positive minMag keeps everything.
func AtLeast(events []quake.Event, minMag float64) []quake.Event {
	if minMag <= 0 {
		return events
	}
	kept := events[:0:0]
	for _, ev := range events {
		if ev.Magnitude >= minMag {
			kept = append(kept, ev)
		}
	}
	return kept
}

// eventID uses the source id when present, otherwise "#" and the item
// index. The prefix keeps fallback ids apart from numeric source ids.
func eventID(v any, idx int) string {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id
		}
	case json.Number:
		return id.String()
	}
	return "#" + strconv.Itoa(idx)
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
