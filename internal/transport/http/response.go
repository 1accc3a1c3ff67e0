package httptransport

import (
	"tempinbox/backend/internal/domain"
)

// CreateResponse POST /create 响应
type CreateResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	ExpiresIn int64  `json:"expiresIn"`
}

// InboxResponse GET /inbox/:id 响应
type InboxResponse struct {
	Messages  []domain.Message `json:"messages"`
	ExpiresIn int64            `json:"expiresIn"`
}

// SendResponse POST /send 响应
type SendResponse struct {
	Success bool `json:"success"`
}

func newCreateResponse(mb *domain.Mailbox) CreateResponse {
	return CreateResponse{
		ID:        mb.ID,
		Email:     mb.Address,
		ExpiresIn: mb.ExpiresInSeconds(),
	}
}

func newInboxResponse(inbox *domain.Inbox) InboxResponse {
	messages := inbox.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	return InboxResponse{
		Messages:  messages,
		ExpiresIn: inbox.ExpiresInSeconds(),
	}
}
