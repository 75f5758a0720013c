package extraction

import (
	"encoding/json"
	"fmt"
)

// RecordKind discriminates the two record shapes produced by the extractor.
type RecordKind string

// Record kinds.
const (
	KindEntity   RecordKind = "entity"
	KindRelation RecordKind = "relation"
)

// Record is an extraction result: either an Entity or a Relation. The kind is
// fixed at construction time; consumers partition with a type switch rather
// than by probing fields.
type Record interface {
	Kind() RecordKind
}

// Entity is a knowledge-graph node derived from a documentation page.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// Kind implements Record.
func (Entity) Kind() RecordKind { return KindEntity }

// Relation is a directed, typed edge between two entities, referenced by name.
type Relation struct {
	From string `json:"from"`
	Type string `json:"relationType"`
	To   string `json:"to"`
}

// Kind implements Record.
func (Relation) Kind() RecordKind { return KindRelation }

// PartitionRecords splits a mixed record list into entities and relations,
// preserving order within each partition.
func PartitionRecords(records []Record) ([]Entity, []Relation) {
	var entities []Entity
	var relations []Relation
	for _, rec := range records {
		switch r := rec.(type) {
		case Entity:
			entities = append(entities, r)
		case Relation:
			relations = append(relations, r)
		}
	}
	return entities, relations
}

// DecodeRecords rebuilds typed records from their serialized form. An element
// carrying an entityType field decodes as an Entity; everything else decodes
// as a Relation.
func DecodeRecords(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, msg := range raw {
		var probe struct {
			EntityType *string `json:"entityType"`
		}
		if err := json.Unmarshal(msg, &probe); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if probe.EntityType != nil {
			var e Entity
			if err := json.Unmarshal(msg, &e); err != nil {
				return nil, fmt.Errorf("decode entity: %w", err)
			}
			out = append(out, e)
			continue
		}
		var r Relation
		if err := json.Unmarshal(msg, &r); err != nil {
			return nil, fmt.Errorf("decode relation: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
