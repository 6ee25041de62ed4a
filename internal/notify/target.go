package notify

import (
	"context"
	"errors"
	"strings"

	"taskcron/internal/core"
)

// TargetName is the registry name of the notification target.
const TargetName = "notify"

// Target sends arguments["title"] and arguments["body"] through a notifier.
type Target struct {
	notifier Notifier
}

func NewTarget(notifier Notifier) *Target {
	return &Target{notifier: notifier}
}

func (t *Target) ValidateArguments(args core.Arguments) error {
	title, ok := args.String("title")
	if !ok || strings.TrimSpace(title) == "" {
		return errors.New(`"title" must be a non-empty string`)
	}
	if v, ok := args["body"]; ok {
		if _, ok := v.(string); !ok {
			return errors.New(`"body" must be a string`)
		}
	}
	return nil
}

func (t *Target) Execute(ctx context.Context, args core.Arguments) error {
	if err := t.ValidateArguments(args); err != nil {
		return err
	}
	title, _ := args.String("title")
	body, _ := args.String("body")
	return t.notifier.Send(ctx, title, body)
}
