package transport

import (
	"context"
	"errors"
)

// Metadata correlates a gateway send with the originating message. It
// is echoed back by the provider in callback events.
type Metadata struct {
	MessageID  string `json:"message_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	AccountID  string `json:"account_id"`
}

// Request is a single outbound send
type Request struct {
	Recipient string
	Subject   string
	HTMLBody  string
	Metadata  Metadata
}

// Result is returned on a successful send
type Result struct {
	// ProviderMessageID is the correlation identifier assigned by the
	// provider, used to match asynchronous delivery events
	ProviderMessageID string
}

// Gateway sends a message through the transport provider
type Gateway interface {
	Send(ctx context.Context, req *Request) (*Result, error)
}

// Error represents a transport failure with transience information
type Error struct {
	Temporary bool
	Message   string
}

func (e *Error) Error() string {
	return e.Message
}

// IsTemporary reports whether a send error is worth retrying. Timeouts
// and unclassified errors are treated as temporary; only an explicit
// permanent rejection from the provider stops the retry path.
func IsTemporary(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Temporary
	}
	return true
}
