package messaging

import (
	"errors"
	"fmt"

	"github.com/npezzotti/go-roster/internal/access"
	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
)

// UnreadCounter counts the conversations a user has unread messages in. It
// runs inside the caller's read transaction.
type UnreadCounter interface {
	UnreadCount(tx database.Tx, userId string) (int, error)
}

// ScanCounter walks every conversation of every team the user belongs to.
// Cost grows with teams times conversations.
type ScanCounter struct{}

func (ScanCounter) UnreadCount(tx database.Tx, userId string) (int, error) {
	grants, err := access.ListUserAccess(tx, userId)
	if err != nil {
		return 0, err
	}

	var count int
	for _, g := range grants {
		convs, err := tx.ListConversationsByTeam(g.Team.Id)
		if err != nil {
			return 0, apperrors.Internal(fmt.Errorf("list conversations: %w", err))
		}

		for _, conv := range convs {
			if !visibleTo(conv, userId) {
				continue
			}

			latest, err := tx.LatestMessage(conv.Id)
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, apperrors.Internal(fmt.Errorf("get latest message: %w", err))
			}

			unread, err := unreadSince(tx, conv.Id, userId, latest.CreatedAt)
			if err != nil {
				return 0, err
			}
			if unread {
				count++
			}
		}
	}
	return count, nil
}
