package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/dkroell/mazine/db"
	"github.com/dkroell/mazine/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Server holds the HTTP surface's collaborators. Federation POSTs are
// enqueue-only; everything else is read-only rendering.
type Server struct {
	db   *db.DB
	conf *util.AppConfig
}

func NewServer(database *db.DB, conf *util.AppConfig) *Server {
	return &Server{db: database, conf: conf}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS feeds
	g.GET("/m/:name/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := s.GetMagazineRSS(c.Param("name"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}
		c.Render(200, render.String{Format: rss})
	})

	g.GET("/u/:username/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := s.GetUserRSS(c.Param("username"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}
		c.Render(200, render.String{Format: rss})
	})

	if s.conf.Conf.WithAp {
		// Stricter rate limit for federation endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)
		// Max 1MB request body size for incoming activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		// Inboxes: enqueue only, verification happens in the worker.
		g.POST("/i/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleInboxPost)
		g.POST("/u/:username/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleInboxPost)
		g.POST("/m/:name/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleInboxPost)

		g.GET("/u/:username", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := s.GetUserActor(c.Param("username"))
			if err != nil {
				c.Render(404, render.String{Format: doc})
				return
			}
			c.Render(200, render.String{Format: doc})
		})

		g.GET("/m/:name", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, doc := s.GetMagazineActor(c.Param("name"))
			if err != nil {
				c.Render(404, render.String{Format: doc})
				return
			}
			c.Render(200, render.String{Format: doc})
		})

		g.GET("/o/:id", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			objectId, err := uuid.Parse(c.Param("id"))
			if err != nil {
				c.JSON(404, gin.H{"error": "Invalid object ID"})
				return
			}
			err, doc, deleted := s.GetObjectDoc(objectId)
			if err != nil {
				c.JSON(404, gin.H{"error": "Object not found"})
				return
			}
			if deleted {
				c.Render(410, render.String{Format: doc})
				return
			}
			c.Render(200, render.String{Format: doc})
		})

		g.GET("/u/:username/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := s.db.ReadLocalActorByUsername(c.Param("username"))
			if err != nil || actor == nil {
				c.Render(404, render.String{Format: "{}"})
				return
			}
			err, doc := s.GetOutbox(actor, ParsePageParam(c.Query("page")))
			if err != nil {
				c.Render(404, render.String{Format: doc})
				return
			}
			c.Render(200, render.String{Format: doc})
		})

		g.GET("/m/:name/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := s.db.ReadLocalMagazine(c.Param("name"))
			if err != nil || actor == nil {
				c.Render(404, render.String{Format: "{}"})
				return
			}
			err, doc := s.GetOutbox(actor, ParsePageParam(c.Query("page")))
			if err != nil {
				c.Render(404, render.String{Format: doc})
				return
			}
			c.Render(200, render.String{Format: doc})
		})

		g.GET("/u/:username/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := s.db.ReadLocalActorByUsername(c.Param("username"))
			if err != nil || actor == nil {
				c.Render(404, render.String{Format: "{}"})
				return
			}
			err, doc := s.GetFollowers(actor)
			if err != nil {
				c.Render(404, render.String{Format: doc})
				return
			}
			c.Render(200, render.String{Format: doc})
		})

		g.GET("/m/:name/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := s.db.ReadLocalMagazine(c.Param("name"))
			if err != nil || actor == nil {
				c.Render(404, render.String{Format: "{}"})
				return
			}
			err, doc := s.GetFollowers(actor)
			if err != nil {
				c.Render(404, render.String{Format: doc})
				return
			}
			c.Render(200, render.String{Format: doc})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")
			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}
			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, "@"+s.conf.Conf.Domain)
			err, resp := s.GetWebfinger(resource)
			if err != nil {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}
			c.Render(200, render.String{Format: resp})
		})
	}

	return g
}

// Run starts the HTTP server on the configured port.
func (s *Server) Run() error {
	log.Printf("Starting HTTP server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}
