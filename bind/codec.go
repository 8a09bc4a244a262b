package bind

import (
	"bytes"
	"encoding/json"
	"maps"

	"github.com/google/uuid"

	"github.com/aep/firebind/store"
)

// Records round-trip through JSON. The "id" field is reserved: it carries
// the remote document id, injected on decode and stripped before data
// reaches the backend.

// Meta is an embeddable carrying the two identities of a synced record.
// Local is assigned at creation and never changes; it is for local list
// diffing and UI identity and is never persisted. ID is the remote
// document id, empty until the record is first saved.
type Meta struct {
	Local string `json:"-"`
	ID    string `json:"id,omitempty"`
}

func NewMeta() Meta {
	return Meta{Local: uuid.NewString()}
}

func (m *Meta) RemoteID() string      { return m.ID }
func (m *Meta) SetRemoteID(id string) { m.ID = id }

// remoteIDSetter is satisfied by records embedding Meta; Save uses it to
// assign freshly allocated ids in place after a successful commit.
type remoteIDSetter interface {
	SetRemoteID(string)
}

func decodeDoc[E any](doc store.Document) (*E, error) {
	data := maps.Clone(doc.Data)
	if data == nil {
		data = make(map[string]any)
	}
	data["id"] = doc.ID

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	e := new(E)
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, err
	}
	return e, nil
}

// decodeAll skips records that fail to decode rather than failing the
// whole collection.
func decodeAll[E any](path string, docs []store.Document) []*E {
	out := make([]*E, 0, len(docs))
	for _, doc := range docs {
		e, err := decodeDoc[E](doc)
		if err != nil {
			log.Warn("skipping undecodable document", "path", path, "id", doc.ID, "err", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

func encodeDoc[E any](v *E) (id string, data map[string]any, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return "", nil, err
	}

	id, _ = data["id"].(string)
	delete(data, "id")
	return id, data, nil
}
