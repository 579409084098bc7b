package memory

import "errors"

var errIDCollision = errors.New("could not allocate a unique secret id")
