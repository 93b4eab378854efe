package httpserver

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrUnauthorized     = "unauthorized"
	ErrInvalidStatus    = "invalid status filter"
	ErrInvalidPageToken = "invalid page token"
	ErrInvalidSignature = "invalid signature"
	ErrReceptionOff     = "webhook reception disabled"
)
