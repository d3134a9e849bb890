package web

import (
	"encoding/json"

	"github.com/dkroell/mazine/activitypub"
)

// GetWebfinger resolves an acct name to a JRD. Users and magazines
// share one acct namespace; users win on collision.
func (s *Server) GetWebfinger(name string) (error, string) {
	err, actor := s.db.ReadLocalActorByUsername(name)
	if err != nil || actor == nil {
		err, actor = s.db.ReadLocalMagazine(name)
		if err != nil || actor == nil {
			return err, GetWebFingerNotFound()
		}
	}

	jrd := map[string]interface{}{
		"subject": "acct:" + actor.Username + "@" + s.conf.Conf.Domain,
		"links": []map[string]string{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": activitypub.LocalActorURI(s.conf, actor),
			},
		},
	}
	jsonData, err := json.Marshal(jrd)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	return nil, string(jsonData)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
