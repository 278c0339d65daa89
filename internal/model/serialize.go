package model

import (
	"encoding/json"
	"sort"
)

// fieldPayload is the wire shape of a Field at the serialization
// boundary, encoding the (value, evidence) pair as a plain object
// rather than relying on Go generics surviving JSON round-trips.
type fieldPayload struct {
	Value    interface{}  `json:"value,omitempty"`
	Evidence *EvidenceRef `json:"evidence,omitempty"`
}

// draftPayload is the fixed set of fields used for data_json and
// evidence_json. The serialized key order is not the declaration order:
// canonicalMarshal re-sorts every object's keys lexically, which is what
// makes two semantically equal drafts serialize byte-identically.
type draftPayload struct {
	SourceID  string                  `json:"source_id"`
	SourceURL string                  `json:"source_url"`
	FetchedAt string                  `json:"fetched_at"`
	Title     fieldPayload            `json:"title"`
	Company   fieldPayload            `json:"company"`
	Location  fieldPayload            `json:"location"`
	RemoteKind fieldPayload           `json:"remote_kind"`
	PayRange  fieldPayload            `json:"pay_range"`
	ApplyURL  fieldPayload            `json:"apply_url"`
	Description fieldPayload          `json:"description"`
	PostedAt  fieldPayload            `json:"posted_at"`
	RawExtras map[string]fieldPayload `json:"raw_extras,omitempty"`
}

func toFieldPayload[T any](f Field[T], withEvidence bool) fieldPayload {
	p := fieldPayload{}
	if f.Value != nil {
		p.Value = *f.Value
	}
	if withEvidence {
		p.Evidence = f.Evidence
	}
	return p
}

func toDraftPayload(d OpportunityDraft, withEvidence bool) draftPayload {
	extras := make(map[string]fieldPayload, len(d.RawExtras))
	for k, v := range d.RawExtras {
		extras[k] = toFieldPayload(v, withEvidence)
	}
	if len(extras) == 0 {
		extras = nil
	}
	return draftPayload{
		SourceID:    d.SourceID,
		SourceURL:   d.SourceURL,
		FetchedAt:   d.FetchedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		Title:       toFieldPayload(d.Title, withEvidence),
		Company:     toFieldPayload(d.Company, withEvidence),
		Location:    toFieldPayload(d.Location, withEvidence),
		RemoteKind:  toFieldPayload(d.RemoteKind, withEvidence),
		PayRange:    toFieldPayload(d.PayRange, withEvidence),
		ApplyURL:    toFieldPayload(d.ApplyURL, withEvidence),
		Description: toFieldPayload(d.Description, withEvidence),
		PostedAt:    toFieldPayload(d.PostedAt, withEvidence),
		RawExtras:   extras,
	}
}

// SerializeData produces data_json: the candidate payload compared
// across sync runs to decide whether a new version row is needed.
// Evidence is deliberately excluded so evidence snippet wording never
// triggers a spurious version bump on its own.
func SerializeData(d OpportunityDraft) ([]byte, error) {
	return canonicalMarshal(toDraftPayload(d, false))
}

// SerializeEvidence produces evidence_json: the parallel tree of
// EvidenceRefs for every populated field.
func SerializeEvidence(d OpportunityDraft) ([]byte, error) {
	return canonicalMarshal(toDraftPayload(d, true))
}

// canonicalMarshal re-marshals through a generic map so that object
// keys are lexically sorted and whitespace is insignificant, making the
// output a fixed point under repeated encode/decode/encode.
func canonicalMarshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			valJSON, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, keyJSON...)
			out = append(out, ':')
			out = append(out, valJSON...)
		}
		out = append(out, '}')
		return out, nil
	case []interface{}:
		out := []byte("[")
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			itemJSON, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			out = append(out, itemJSON...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(v)
	}
}
