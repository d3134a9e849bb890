package activitypub

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// StringList accepts both a single JSON string and an array of
// strings, the two shapes "to"/"cc" arrive in on the wire.
type StringList []string

func (s *StringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []interface{}
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	out := make(StringList, 0, len(many))
	for _, v := range many {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	*s = out
	return nil
}

// CollectionCount accepts a bare number or an embedded collection with
// totalItems; a collection URI string leaves it unset.
type CollectionCount struct {
	N *int
}

func (c *CollectionCount) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		c.N = &n
		return nil
	}
	var coll struct {
		TotalItems *int `json:"totalItems"`
	}
	if err := json.Unmarshal(b, &coll); err == nil && coll.TotalItems != nil {
		c.N = coll.TotalItems
	}
	return nil
}

// Activity is the validated envelope every inbox message is parsed
// into exactly once, before dispatch.
type Activity struct {
	Context interface{}     `json:"@context"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	Target  string          `json:"target,omitempty"`
	To      StringList      `json:"to,omitempty"`
	CC      StringList      `json:"cc,omitempty"`
	// Content carries the report note on Flag activities.
	Content string `json:"content,omitempty"`
}

// ParseActivity is the single schema-checked parse step. Anything that
// fails here is a protocol violation, not a handler concern.
func ParseActivity(body []byte) (*Activity, error) {
	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return nil, fmt.Errorf("malformed activity: %w", err)
	}
	if act.Type == "" {
		return nil, fmt.Errorf("activity missing type")
	}
	if act.Actor == "" {
		return nil, fmt.Errorf("activity missing actor")
	}
	if !strings.HasPrefix(act.Actor, "https://") && !strings.HasPrefix(act.Actor, "http://") {
		return nil, fmt.Errorf("activity actor is not a URI: %s", act.Actor)
	}
	if act.ID == "" {
		return nil, fmt.Errorf("activity missing id")
	}
	return &act, nil
}

// ObjectURI returns the id of the activity's object whether it arrived
// as a bare URI string or an embedded object.
func (a *Activity) ObjectURI() string {
	if len(a.Object) == 0 {
		return ""
	}
	var uri string
	if err := json.Unmarshal(a.Object, &uri); err == nil {
		return uri
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &obj); err == nil && obj.ID != "" {
		return obj.ID
	}
	// Flag activities may carry an array of object URIs.
	var list StringList
	if err := json.Unmarshal(a.Object, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// EmbeddedActivity parses the object as a nested activity (an Announce
// wrapping a Create). Returns nil if the object is not activity-shaped.
func (a *Activity) EmbeddedActivity() *Activity {
	if len(a.Object) == 0 {
		return nil
	}
	var inner Activity
	if err := json.Unmarshal(a.Object, &inner); err != nil {
		return nil
	}
	if inner.Type == "" || inner.Actor == "" || len(inner.Object) == 0 {
		return nil
	}
	switch inner.Type {
	case "Create", "Update", "Delete", "Like", "Dislike", "Follow", "Accept", "Announce", "Lock", "Add", "Remove", "Block", "Flag", "Undo":
		return &inner
	}
	return nil
}

// ObjectDoc is an embedded content object (Note, Page, Article...).
type ObjectDoc struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Name         string          `json:"name,omitempty"`
	URL          string          `json:"url,omitempty"`
	Content      string          `json:"content,omitempty"`
	Published    string          `json:"published,omitempty"`
	AttributedTo string          `json:"attributedTo,omitempty"`
	InReplyTo    string          `json:"inReplyTo,omitempty"`
	To           StringList      `json:"to,omitempty"`
	CC           StringList      `json:"cc,omitempty"`
	Likes        CollectionCount `json:"likes,omitempty"`
	Dislikes     CollectionCount `json:"dislikes,omitempty"`
	Shares       CollectionCount `json:"shares,omitempty"`
}

// ParseObjectDoc parses an embedded object. A bare URI string yields a
// doc with only the ID set.
func ParseObjectDoc(raw json.RawMessage) (*ObjectDoc, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("activity has no object")
	}
	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		return &ObjectDoc{ID: uri}, nil
	}
	var doc ObjectDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("malformed object: %w", err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("object missing id")
	}
	return &doc, nil
}

// Audience returns the union of the object's to and cc.
func (o *ObjectDoc) Audience() []string {
	out := make([]string, 0, len(o.To)+len(o.CC))
	out = append(out, o.To...)
	out = append(out, o.CC...)
	return out
}

// ActorDoc is a fetched remote actor profile document.
type ActorDoc struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}
