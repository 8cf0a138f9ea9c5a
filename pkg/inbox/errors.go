package inbox

import "errors"

var (
	ErrItemNotFound      = errors.New("inbox item not found")
	ErrRecipientRequired = errors.New("recipient id is required")
	ErrDuplicateItem     = errors.New("inbox item already exists")
	ErrHubClosed         = errors.New("inbox hub is closed")
)
