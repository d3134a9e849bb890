package web

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/dkroell/mazine/activitypub"
	"github.com/dkroell/mazine/domain"
)

const outboxPageSize = 20

// GetOutbox renders an actor's outbox as an OrderedCollection. Page 0
// is the collection header; pages start at 1.
func (s *Server) GetOutbox(actor *domain.Actor, page int) (error, string) {
	actorURI := activitypub.LocalActorURI(s.conf, actor)
	outboxURL := actorURI + "/outbox"

	if page == 0 {
		err, total := s.db.CountContentByAuthor(actor.Id)
		if err != nil {
			log.Printf("GetOutbox: failed to count content for %s: %v", actor.Username, err)
			return err, "{}"
		}
		collection := map[string]interface{}{
			"@context":   activitypub.ActivityStreamsContext,
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		}
		jsonData, err2 := json.Marshal(collection)
		if err2 != nil {
			return err2, "{}"
		}
		return nil, string(jsonData)
	}

	return s.getOutboxPage(actor, actorURI, outboxURL, page)
}

func (s *Server) getOutboxPage(actor *domain.Actor, actorURI, outboxURL string, page int) (error, string) {
	offset := (page - 1) * outboxPageSize

	// Fetch one extra row to learn whether a next page exists.
	err, contents := s.db.ReadContentByAuthor(actor.Id, outboxPageSize+1, offset)
	if err != nil {
		log.Printf("GetOutbox: failed to fetch page %d for %s: %v", page, actor.Username, err)
		return err, "{}"
	}

	hasMore := false
	items := []interface{}{}
	if contents != nil {
		rows := *contents
		if len(rows) > outboxPageSize {
			hasMore = true
			rows = rows[:outboxPageSize]
		}
		items = s.makeCreateActivities(rows, actor, actorURI)
	}

	collectionPage := map[string]interface{}{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}

	jsonData, err2 := json.Marshal(collectionPage)
	if err2 != nil {
		return err2, "{}"
	}
	return nil, string(jsonData)
}

// makeCreateActivities wraps content rows in Create activities the way
// they originally federated.
func (s *Server) makeCreateActivities(contents []domain.Content, actor *domain.Actor, actorURI string) []interface{} {
	activities := make([]interface{}, 0, len(contents))
	for _, content := range contents {
		objectURI := activitypub.ObjectURI(s.conf, &content)

		obj := map[string]interface{}{
			"id":           objectURI,
			"type":         objectType(content.Kind),
			"attributedTo": actorURI,
			"content":      content.Body,
			"published":    content.CreatedAt.Format(time.RFC3339),
			"to":           []string{activitypub.PublicAudience},
			"cc":           []string{actorURI + "/followers"},
		}
		if content.Title != "" {
			obj["name"] = content.Title
		}
		if content.URL != "" {
			obj["url"] = content.URL
		}
		if content.ParentURI != "" {
			obj["inReplyTo"] = content.ParentURI
		}
		if content.EditedAt != nil {
			obj["updated"] = content.EditedAt.Format(time.RFC3339)
		}

		activities = append(activities, map[string]interface{}{
			"id":        fmt.Sprintf("https://%s/activities/%s", s.conf.Conf.Domain, content.Id.String()),
			"type":      "Create",
			"actor":     actorURI,
			"published": content.CreatedAt.Format(time.RFC3339),
			"to":        []string{activitypub.PublicAudience},
			"cc":        []string{actorURI + "/followers"},
			"object":    obj,
		})
	}
	return activities
}

// GetFollowers renders an actor's followers collection. Only the count
// is exposed; member enumeration stays private.
func (s *Server) GetFollowers(actor *domain.Actor) (error, string) {
	err, total := s.db.CountFollowersOf(actor.Id)
	if err != nil {
		return err, "{}"
	}
	collection := map[string]interface{}{
		"@context":   activitypub.ActivityStreamsContext,
		"id":         activitypub.LocalFollowersURI(s.conf, actor),
		"type":       "OrderedCollection",
		"totalItems": total,
	}
	jsonData, err2 := json.Marshal(collection)
	if err2 != nil {
		return err2, "{}"
	}
	return nil, string(jsonData)
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
