package subtask

import "errors"

var ErrNotFound = errors.New("subtask not found")
