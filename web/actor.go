package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkroell/mazine/activitypub"
	"github.com/dkroell/mazine/domain"
	"github.com/google/uuid"
)

// GetUserActor renders a local user's Person document.
func (s *Server) GetUserActor(username string) (error, string) {
	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil {
		return err, "{}"
	}
	return s.renderActor(actor, "Person")
}

// GetMagazineActor renders a local magazine's Group document.
func (s *Server) GetMagazineActor(name string) (error, string) {
	err, actor := s.db.ReadLocalMagazine(name)
	if err != nil {
		return err, "{}"
	}
	return s.renderActor(actor, "Group")
}

func (s *Server) renderActor(actor *domain.Actor, actorType string) (error, string) {
	actorURI := activitypub.LocalActorURI(s.conf, actor)
	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        actorURI,
		"type":                      actorType,
		"preferredUsername":         actor.Username,
		"name":                      actor.Username,
		"summary":                   actor.Summary,
		"inbox":                     actorURI + "/inbox",
		"outbox":                    actorURI + "/outbox",
		"followers":                 actorURI + "/followers",
		"url":                       actorURI,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"published":                 actor.CreatedAt.Format(time.RFC3339),
		"endpoints": map[string]string{
			"sharedInbox": fmt.Sprintf("https://%s/i/inbox", s.conf.Conf.Domain),
		},
		"publicKey": map[string]string{
			"id":           actorURI + "#main-key",
			"owner":        actorURI,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}
	if actorType == "Group" {
		doc["attributedTo"] = actorURI + "/moderators"
	}

	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

// GetObjectDoc renders a local content object as ActivityStreams JSON.
// Deleted objects render as a Tombstone with 410 semantics upstream.
func (s *Server) GetObjectDoc(id uuid.UUID) (error, string, bool) {
	err, content := s.db.ReadContentById(id)
	if err != nil {
		return err, "{}", false
	}

	objectURI := activitypub.LocalObjectURI(s.conf, content.Id)
	if content.DeletedAt != nil {
		doc := map[string]interface{}{
			"@context":   activitypub.ActivityStreamsContext,
			"id":         objectURI,
			"type":       "Tombstone",
			"deleted":    content.DeletedAt.Format(time.RFC3339),
			"formerType": objectType(content.Kind),
		}
		jsonBytes, _ := json.Marshal(doc)
		return nil, string(jsonBytes), true
	}

	err, author := s.db.ReadActorById(content.AuthorId)
	if err != nil {
		return err, "{}", false
	}
	authorURI := activitypub.ProfileURI(s.conf, author)

	doc := map[string]interface{}{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           objectURI,
		"type":         objectType(content.Kind),
		"attributedTo": authorURI,
		"content":      content.Body,
		"published":    content.CreatedAt.Format(time.RFC3339),
		"to":           []string{activitypub.PublicAudience},
		"cc":           []string{authorURI + "/followers"},
	}
	if content.Title != "" {
		doc["name"] = content.Title
	}
	if content.URL != "" {
		doc["url"] = content.URL
	}
	if content.ParentURI != "" {
		doc["inReplyTo"] = content.ParentURI
	}
	if content.EditedAt != nil {
		doc["updated"] = content.EditedAt.Format(time.RFC3339)
	}
	if content.MagazineId != uuid.Nil {
		if err, magazine := s.db.ReadActorById(content.MagazineId); err == nil && magazine != nil {
			doc["audience"] = activitypub.ProfileURI(s.conf, magazine)
		}
	}

	jsonBytes, err2 := json.Marshal(doc)
	if err2 != nil {
		return err2, "{}", false
	}
	return nil, string(jsonBytes), false
}

func objectType(kind domain.ContentKind) string {
	switch kind {
	case domain.KindEntry:
		return "Page"
	default:
		return "Note"
	}
}
