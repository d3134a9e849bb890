package activitypub

import (
	"fmt"
	"log"

	"github.com/dkroell/mazine/domain"
)

// resolveObjectByURI returns the content object behind a URI, fetching
// and materializing it (and its ancestors) from the remote origin when
// it is not yet known locally. Depth counts parent hops; beyond the
// configured bound the resolution is abandoned for this attempt and
// the message requeued, so a deep thread fills in across retries
// instead of blocking one worker forever.
func (d *Dispatcher) resolveObjectByURI(uri string, depth int) (*domain.Content, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty object uri")
	}
	if depth > d.conf.Conf.MaxResolveDepth {
		return nil, fmt.Errorf("object chain at %s exceeds depth %d: %w", uri, d.conf.Conf.MaxResolveDepth, ErrRetryLater)
	}

	if content := d.contentByURI(uri); content != nil {
		return content, nil
	}

	if IsLocalURI(d.conf, uri) {
		// A local URI we don't know is a dangling reference, not
		// something to fetch over the network.
		return nil, fmt.Errorf("unknown local object %s", uri)
	}

	log.Printf("Resolver: fetching object %s (depth %d)", uri, depth)
	body, err := d.resolver.FetchDocument(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", uri, ErrRetryLater)
	}

	doc, err := ParseObjectDoc(body)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", uri, err)
	}
	if doc.Type == "" {
		return nil, fmt.Errorf("object %s has no type", uri)
	}
	if doc.ID != uri {
		// The canonical id wins; check it isn't already known under
		// its real name.
		if content := d.contentByURI(doc.ID); content != nil {
			return content, nil
		}
	}
	if doc.AttributedTo == "" {
		return nil, fmt.Errorf("object %s has no attributedTo", doc.ID)
	}

	author, err := d.resolver.Resolve(doc.AttributedTo)
	if err != nil {
		return nil, err
	}

	return d.materializeObject(doc, author, depth)
}
