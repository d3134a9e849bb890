package activitypub

import (
	"encoding/json"
	"testing"
)

func TestParseActivityValid(t *testing.T) {
	body := `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.example/activities/123",
		"type": "Follow",
		"actor": "https://remote.example/u/bob",
		"object": "https://mazine.example/u/alice"
	}`
	act, err := ParseActivity([]byte(body))
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	if act.Type != "Follow" {
		t.Errorf("Expected type Follow, got '%s'", act.Type)
	}
	if act.ObjectURI() != "https://mazine.example/u/alice" {
		t.Errorf("Unexpected object URI '%s'", act.ObjectURI())
	}
}

func TestParseActivityRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"garbage", `not json`},
		{"missing type", `{"id":"https://x.example/1","actor":"https://x.example/u/a"}`},
		{"missing actor", `{"id":"https://x.example/1","type":"Create"}`},
		{"missing id", `{"type":"Create","actor":"https://x.example/u/a"}`},
		{"non-uri actor", `{"id":"https://x.example/1","type":"Create","actor":"bob"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseActivity([]byte(tt.body)); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestStringListAcceptsBothShapes(t *testing.T) {
	var single StringList
	if err := json.Unmarshal([]byte(`"https://a.example"`), &single); err != nil {
		t.Fatalf("Unmarshal single failed: %v", err)
	}
	if len(single) != 1 || single[0] != "https://a.example" {
		t.Errorf("Unexpected single result: %v", single)
	}

	var many StringList
	if err := json.Unmarshal([]byte(`["https://a.example", "https://b.example"]`), &many); err != nil {
		t.Fatalf("Unmarshal array failed: %v", err)
	}
	if len(many) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(many))
	}

	// Non-string entries (nested objects in "to") are skipped.
	var mixed StringList
	if err := json.Unmarshal([]byte(`["https://a.example", {"id":"x"}]`), &mixed); err != nil {
		t.Fatalf("Unmarshal mixed failed: %v", err)
	}
	if len(mixed) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(mixed))
	}
}

func TestCollectionCountShapes(t *testing.T) {
	var bare CollectionCount
	if err := json.Unmarshal([]byte(`42`), &bare); err != nil {
		t.Fatalf("Unmarshal number failed: %v", err)
	}
	if bare.N == nil || *bare.N != 42 {
		t.Errorf("Expected 42, got %v", bare.N)
	}

	var embedded CollectionCount
	if err := json.Unmarshal([]byte(`{"type":"Collection","totalItems":7}`), &embedded); err != nil {
		t.Fatalf("Unmarshal collection failed: %v", err)
	}
	if embedded.N == nil || *embedded.N != 7 {
		t.Errorf("Expected 7, got %v", embedded.N)
	}

	// A collection URI leaves the count unset.
	var uri CollectionCount
	if err := json.Unmarshal([]byte(`"https://remote.example/o/1/likes"`), &uri); err != nil {
		t.Fatalf("Unmarshal URI failed: %v", err)
	}
	if uri.N != nil {
		t.Errorf("Expected unset count, got %d", *uri.N)
	}
}

func TestObjectURIShapes(t *testing.T) {
	mk := func(object string) *Activity {
		body := `{"id":"https://x.example/1","type":"Like","actor":"https://x.example/u/a","object":` + object + `}`
		act, err := ParseActivity([]byte(body))
		if err != nil {
			t.Fatalf("ParseActivity failed: %v", err)
		}
		return act
	}

	if got := mk(`"https://x.example/o/1"`).ObjectURI(); got != "https://x.example/o/1" {
		t.Errorf("string object: got '%s'", got)
	}
	if got := mk(`{"id":"https://x.example/o/2","type":"Note"}`).ObjectURI(); got != "https://x.example/o/2" {
		t.Errorf("embedded object: got '%s'", got)
	}
	// Flag activities may carry several objects; the first one wins.
	if got := mk(`["https://x.example/o/3","https://x.example/u/a"]`).ObjectURI(); got != "https://x.example/o/3" {
		t.Errorf("array object: got '%s'", got)
	}
}

func TestEmbeddedActivityDetection(t *testing.T) {
	body := `{
		"id": "https://group.example/activities/1",
		"type": "Announce",
		"actor": "https://group.example/m/golang",
		"object": {
			"id": "https://origin.example/activities/2",
			"type": "Create",
			"actor": "https://origin.example/u/bob",
			"object": {"id": "https://origin.example/o/5", "type": "Note", "content": "hi"}
		}
	}`
	act, err := ParseActivity([]byte(body))
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}

	inner := act.EmbeddedActivity()
	if inner == nil {
		t.Fatal("Expected embedded activity")
	}
	if inner.Type != "Create" || inner.Actor != "https://origin.example/u/bob" {
		t.Errorf("Unexpected inner activity: %s by %s", inner.Type, inner.Actor)
	}
}

func TestEmbeddedActivityDetectsWrappedAccept(t *testing.T) {
	body := `{
		"id": "https://group.example/activities/3",
		"type": "Announce",
		"actor": "https://group.example/m/golang",
		"object": {
			"id": "https://origin.example/activities/4",
			"type": "Accept",
			"actor": "https://origin.example/u/bob",
			"object": {"id": "https://mazine.example/activities/f1", "type": "Follow"}
		}
	}`
	act, err := ParseActivity([]byte(body))
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	inner := act.EmbeddedActivity()
	if inner == nil || inner.Type != "Accept" {
		t.Fatal("Expected an embedded Accept")
	}
}

func TestEmbeddedActivityRejectsPlainObjects(t *testing.T) {
	// An Announce of a bare Note is a share, not a wrapped activity.
	body := `{
		"id": "https://group.example/activities/1",
		"type": "Announce",
		"actor": "https://group.example/m/golang",
		"object": {"id": "https://origin.example/o/5", "type": "Note", "content": "hi"}
	}`
	act, err := ParseActivity([]byte(body))
	if err != nil {
		t.Fatalf("ParseActivity failed: %v", err)
	}
	if act.EmbeddedActivity() != nil {
		t.Error("Expected no embedded activity for a plain Note")
	}

	// A bare URI object is not an embedded activity either.
	body2 := `{"id":"https://g.example/2","type":"Announce","actor":"https://g.example/m/x","object":"https://o.example/o/1"}`
	act2, _ := ParseActivity([]byte(body2))
	if act2.EmbeddedActivity() != nil {
		t.Error("Expected no embedded activity for a URI object")
	}
}

func TestParseObjectDoc(t *testing.T) {
	doc, err := ParseObjectDoc(json.RawMessage(`{"id":"https://x.example/o/1","type":"Page","name":"a link","likes":{"totalItems":3}}`))
	if err != nil {
		t.Fatalf("ParseObjectDoc failed: %v", err)
	}
	if doc.Type != "Page" || doc.Name != "a link" {
		t.Errorf("Unexpected doc: %+v", doc)
	}
	if doc.Likes.N == nil || *doc.Likes.N != 3 {
		t.Error("Expected likes count 3")
	}

	// Bare URI: only the id survives.
	uriDoc, err := ParseObjectDoc(json.RawMessage(`"https://x.example/o/2"`))
	if err != nil {
		t.Fatalf("ParseObjectDoc (uri) failed: %v", err)
	}
	if uriDoc.ID != "https://x.example/o/2" || uriDoc.Type != "" {
		t.Errorf("Unexpected uri doc: %+v", uriDoc)
	}

	if _, err := ParseObjectDoc(json.RawMessage(`{"type":"Note"}`)); err == nil {
		t.Error("Expected error for object without id")
	}
}
