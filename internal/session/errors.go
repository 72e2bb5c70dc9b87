package session

import "errors"

// ErrNoSession is returned by stores when a lookup matches nothing.
var ErrNoSession = errors.New("session not found")

// ErrLastSession is returned by DeleteSession when removal would leave the
// scope with no sessions at all.
var ErrLastSession = errors.New("cannot delete the only session for scope")
