package access

import "context"

// Caller is the identity a request runs as. The zero value is anonymous.
type Caller struct {
	UserId string
}

var Anonymous = Caller{}

func Authenticated(userId string) Caller {
	return Caller{UserId: userId}
}

func (c Caller) IsAuthenticated() bool {
	return c.UserId != ""
}

type contextKey string

const callerKey contextKey = "caller"

// WithCaller attaches the resolved caller to ctx. Only the HTTP boundary
// reads it back; services receive the Caller as an explicit argument.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey).(Caller)
	return c
}
