package mailer

import "context"

type Service interface {
	Send(ctx context.Context, toEmail, toName, subject, text string) (string, error)
}
