package activitypub

import (
	"fmt"
	"strings"

	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/google/uuid"
)

// LocalActorURI builds the canonical profile URI of a local actor:
// /u/<name> for people, /m/<name> for magazines.
func LocalActorURI(conf *util.AppConfig, actor *domain.Actor) string {
	if actor.Type == domain.ActorGroup {
		return fmt.Sprintf("https://%s/m/%s", conf.Conf.Domain, actor.Username)
	}
	return fmt.Sprintf("https://%s/u/%s", conf.Conf.Domain, actor.Username)
}

// ProfileURI returns the canonical URI for any actor, local or remote.
func ProfileURI(conf *util.AppConfig, actor *domain.Actor) string {
	if actor.IsRemote() {
		return actor.ApProfileID
	}
	return LocalActorURI(conf, actor)
}

func LocalFollowersURI(conf *util.AppConfig, actor *domain.Actor) string {
	return LocalActorURI(conf, actor) + "/followers"
}

func LocalObjectURI(conf *util.AppConfig, id uuid.UUID) string {
	return fmt.Sprintf("https://%s/o/%s", conf.Conf.Domain, id.String())
}

func NewActivityURI(conf *util.AppConfig) string {
	return fmt.Sprintf("https://%s/activities/%s", conf.Conf.Domain, uuid.New().String())
}

// ObjectURI returns the canonical URI of a content object.
func ObjectURI(conf *util.AppConfig, c *domain.Content) string {
	if c.ApID != "" {
		return c.ApID
	}
	return LocalObjectURI(conf, c.Id)
}

// IsLocalURI reports whether a URI belongs to this instance.
func IsLocalURI(conf *util.AppConfig, uri string) bool {
	host, err := util.ExtractDomain(uri)
	if err != nil {
		return false
	}
	return host == conf.Conf.Domain
}

// LocalObjectId extracts the content id from a local /o/<uuid> URI.
func LocalObjectId(conf *util.AppConfig, uri string) (uuid.UUID, bool) {
	prefix := fmt.Sprintf("https://%s/o/", conf.Conf.Domain)
	if !strings.HasPrefix(uri, prefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(uri, prefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
