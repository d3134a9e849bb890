package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dkroell/mazine/activitypub"
	"github.com/dkroell/mazine/domain"
	"github.com/gorilla/feeds"
)

const rssItemLimit = 50

// GetMagazineRSS renders a magazine's recent entries as RSS.
func (s *Server) GetMagazineRSS(name string) (string, error) {
	err, magazine := s.db.ReadLocalMagazine(name)
	if err != nil || magazine == nil {
		return "", errors.New("magazine not found")
	}

	err, entries := s.db.ReadEntriesByMagazine(magazine.Id, rssItemLimit)
	if err != nil || entries == nil {
		log.Printf("RSS: could not read entries for magazine %s: %v", name, err)
		return "", errors.New("error retrieving magazine entries")
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", name, s.conf.Conf.Domain),
		Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/m/%s", s.conf.Conf.Domain, name)},
		Description: magazine.Summary,
		Author:      &feeds.Author{Name: name, Email: fmt.Sprintf("%s@%s", name, s.conf.Conf.Domain)},
		Created:     time.Now(),
	}
	feed.Items = s.makeFeedItems(*entries)
	return feed.ToRss()
}

// GetUserRSS renders a user's recent content as RSS.
func (s *Server) GetUserRSS(username string) (string, error) {
	err, actor := s.db.ReadLocalActorByUsername(username)
	if err != nil || actor == nil {
		return "", errors.New("user not found")
	}

	err, contents := s.db.ReadContentByAuthor(actor.Id, rssItemLimit, 0)
	if err != nil || contents == nil {
		log.Printf("RSS: could not read content for user %s: %v", username, err)
		return "", errors.New("error retrieving user content")
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", username, s.conf.Conf.Domain),
		Link:        &feeds.Link{Href: fmt.Sprintf("https://%s/u/%s", s.conf.Conf.Domain, username)},
		Description: actor.Summary,
		Author:      &feeds.Author{Name: username, Email: fmt.Sprintf("%s@%s", username, s.conf.Conf.Domain)},
		Created:     time.Now(),
	}
	feed.Items = s.makeFeedItems(*contents)
	return feed.ToRss()
}

func (s *Server) makeFeedItems(contents []domain.Content) []*feeds.Item {
	var items []*feeds.Item
	for _, content := range contents {
		if content.DeletedAt != nil {
			continue
		}
		title := content.Title
		if title == "" {
			title = firstLine(content.Body)
		}
		link := content.URL
		if link == "" {
			link = activitypub.ObjectURI(s.conf, &content)
		}
		items = append(items, &feeds.Item{
			Id:          content.Id.String(),
			Title:       title,
			Link:        &feeds.Link{Href: link},
			Description: content.Body,
			Created:     content.CreatedAt,
		})
	}
	return items
}

func firstLine(body string) string {
	for i, r := range body {
		if r == '\n' {
			return body[:i]
		}
		if i > 80 {
			return body[:i] + "..."
		}
	}
	return body
}
