package web

import (
	"log"
	"strings"
	"time"

	"github.com/dkroell/mazine/domain"
	"github.com/dkroell/mazine/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HandleInboxPost accepts a raw federation POST and stores it for the
// inbox worker. No parsing, no verification, no remote calls happen on
// the request path; a 202 only means "queued".
func (s *Server) HandleInboxPost(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: failed to read body from %s: %v", c.ClientIP(), err)
		c.Status(400)
		return
	}
	if len(body) == 0 {
		c.Status(400)
		return
	}

	item := &domain.InboxQueueItem{
		Id:          uuid.New(),
		Body:        string(body),
		SourceHost:  sourceHostOf(c),
		Path:        c.Request.URL.Path,
		Signature:   c.GetHeader("Signature"),
		Digest:      c.GetHeader("Digest"),
		Date:        c.GetHeader("Date"),
		Attempts:    0,
		NextRetryAt: time.Now(),
		CreatedAt:   time.Now(),
	}
	if err := s.db.EnqueueInboxItem(item); err != nil {
		log.Printf("Inbox: failed to enqueue message from %s: %v", item.SourceHost, err)
		c.Status(500)
		return
	}
	c.Status(202)
}

// sourceHostOf names the delivering server. The signing key's host is
// authoritative; the inbox worker re-checks it against the verified
// signature, this is only the queue's first guess.
func sourceHostOf(c *gin.Context) string {
	if keyHost := keyIdHost(c.GetHeader("Signature")); keyHost != "" {
		return keyHost
	}
	return c.ClientIP()
}

// keyIdHost extracts the host of the keyId parameter from a Signature
// header, e.g. keyId="https://example.com/u/alice#main-key".
func keyIdHost(signature string) string {
	for _, part := range strings.Split(signature, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "keyId=") {
			continue
		}
		keyId := strings.Trim(strings.TrimPrefix(part, "keyId="), `"`)
		host, err := util.ExtractDomain(keyId)
		if err != nil {
			return ""
		}
		return host
	}
	return ""
}
