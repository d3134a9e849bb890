package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContentKind discriminates the four content variants of the
// aggregator: link/article entries in a magazine, comments on them,
// microblog posts and their comments.
type ContentKind string

const (
	KindEntry        ContentKind = "entry"
	KindEntryComment ContentKind = "entry_comment"
	KindPost         ContentKind = "post"
	KindPostComment  ContentKind = "post_comment"
)

// Content is one content object. Entries carry Title/URL and a
// MagazineId; comments carry a ParentURI threading them under their
// parent object.
type Content struct {
	Id         uuid.UUID
	Kind       ContentKind
	AuthorId   uuid.UUID
	MagazineId uuid.UUID // zero for posts/post comments
	Title      string
	URL        string
	Body       string

	// ApID is the remote canonical object id; empty for local objects.
	ApID      string
	ParentURI string

	// Local tallies.
	UpVotes   int
	DownVotes int
	Shares    int

	// Remote counter mirrors. When the object is remote and the origin
	// reports counts, these shadow the local tallies.
	ApLikeCount    *int
	ApDislikeCount *int
	ApShareCount   *int

	IsLocked  bool
	IsPinned  bool
	CreatedAt time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
}

// IsRemote reports whether the object originated on another instance.
func (c *Content) IsRemote() bool {
	return c.ApID != ""
}

// Score is the single place where remote-counter precedence lives: a
// remote object with mirrored counts scores by the origin's numbers,
// everything else by local tallies.
func (c *Content) Score() int {
	if c.IsRemote() && c.ApLikeCount != nil {
		down := 0
		if c.ApDislikeCount != nil {
			down = *c.ApDislikeCount
		}
		return *c.ApLikeCount - down
	}
	return c.UpVotes - c.DownVotes
}

// ShareCount follows the same precedence rule as Score.
func (c *Content) ShareCount() int {
	if c.IsRemote() && c.ApShareCount != nil {
		return *c.ApShareCount
	}
	return c.Shares
}

// VoteChoice is +1 for an upvote (Like) and -1 for a downvote
// (Dislike).
type VoteChoice int

const (
	VoteUp   VoteChoice = 1
	VoteDown VoteChoice = -1
)

// Vote is keyed by (actor, object), not by activity id, so duplicate
// Like deliveries collapse to one vote and a Dislike replaces a Like.
type Vote struct {
	Id        uuid.UUID
	ActorId   uuid.UUID
	ContentId uuid.UUID
	Choice    VoteChoice
	CreatedAt time.Time
}
