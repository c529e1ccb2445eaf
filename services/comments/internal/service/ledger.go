package service

import (
	"context"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/example/blog-platform/services/comments/internal/domain"
	"github.com/example/blog-platform/services/comments/internal/store"
)

// VoterKey derives the key one vote per comment is enforced on. An email,
// normalised and hashed, wins over the IP address.
func VoterKey(id domain.Identity) (string, error) {
	if email := strings.ToLower(strings.TrimSpace(id.Email)); email != "" {
		sum := blake2b.Sum256([]byte(email))
		return "e:" + hex.EncodeToString(sum[:]), nil
	}
	if ip := strings.TrimSpace(id.IP); ip != "" {
		return "ip:" + ip, nil
	}
	return "", invalid("voter", "an email or client address is required")
}

// Ledger records votes and keeps comment scores equal to their vote sums.
type Ledger struct {
	store store.VoteStore
	opts  Options
}

func NewLedger(s store.VoteStore, opts Options) *Ledger {
	return &Ledger{store: s, opts: opts.withDefaults()}
}

// CastVote records value (+1 or -1) for voterKey and returns the comment's
// score afterwards. Repeating a vote changes nothing; switching it moves
// the score by two.
func (l *Ledger) CastVote(ctx context.Context, commentID, voterKey string, value int) (int, error) {
	if value != 1 && value != -1 {
		return 0, invalid("value", "must be 1 or -1")
	}
	if voterKey == "" {
		return 0, invalid("voter", "is required")
	}

	ctx, cancel := l.opts.bound(ctx)
	defer cancel()

	var score int
	outcome := "new"
	err := l.store.VoteTx(ctx, func(tx store.VoteTx) error {
		c, err := tx.LockComment(ctx, commentID)
		if err != nil {
			return err
		}
		if c.Status != domain.StatusApproved {
			return store.ErrNotFound
		}

		prev, ok, err := tx.GetVote(ctx, commentID, voterKey)
		if err != nil {
			return err
		}
		delta := value
		if ok {
			if prev.Value == value {
				outcome, score = "noop", c.Score
				return nil
			}
			outcome, delta = "flip", value-prev.Value
		}

		if err := tx.PutVote(ctx, domain.Vote{CommentID: commentID, VoterKey: voterKey, Value: value}); err != nil {
			return err
		}
		score, err = tx.IncrementScore(ctx, commentID, delta)
		return err
	})
	if err != nil {
		return 0, l.opts.fail("vote", err)
	}

	l.opts.Metrics.Vote(outcome)
	l.opts.Logger.Debug("vote recorded",
		zap.String("comment_id", commentID),
		zap.String("outcome", outcome),
		zap.Int("score", score))
	return score, nil
}
