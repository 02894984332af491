package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"429", &Error{Provider: "openai", StatusCode: 429, Message: "slow down"}, true},
		{"408", &Error{Provider: "openai", StatusCode: 408}, true},
		{"500", &Error{Provider: "gemini", StatusCode: 500}, true},
		{"503", &Error{Provider: "gemini", StatusCode: 503}, true},
		{"529 overloaded", &Error{Provider: "claude", StatusCode: 529, Message: "overloaded_error"}, true},
		{"400", &Error{Provider: "openai", StatusCode: 400, Message: "invalid model"}, false},
		{"401", &Error{Provider: "openai", StatusCode: 401, Message: "bad key"}, false},
		{"403", &Error{Provider: "claude", StatusCode: 403}, false},
		{"404", &Error{Provider: "gemini", StatusCode: 404, Message: "model not found"}, false},
		{"400 mentioning rate limit stays fatal", &Error{Provider: "openai", StatusCode: 400, Message: "rate limit field invalid"}, false},
		{"empty body", &Error{Provider: "gemini", Message: "empty response: no candidates"}, true},
		{"malformed body", &Error{Provider: "gemini", Message: "invalid character '<'"}, false},
		{"network", &url.Error{Op: "Post", URL: "https://x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, true},
		{"plain overloaded", errors.New("upstream overloaded"), true},
		{"plain unknown", errors.New("json: cannot unmarshal"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsRetryable(c.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "claude api error (status 529): overloaded", (&Error{Provider: "claude", StatusCode: 529, Message: "overloaded"}).Error())
	assert.Equal(t, "gemini api error: empty response", (&Error{Provider: "gemini", Message: "empty response"}).Error())
}
