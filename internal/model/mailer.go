package model

import "context"

// Mailer delivers recovery tokens. Mail transport is a collaborator, not
// part of the engine.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}
