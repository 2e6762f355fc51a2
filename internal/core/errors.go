package core

type coreError string

func (e coreError) Error() string { return string(e) }

const (
	ErrNotFound      = coreError("not found")
	ErrChannelClosed = coreError("channel closed")
	ErrRateLimited   = coreError("broadcast rate exceeded")
)
