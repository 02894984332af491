package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]bool{
		"debug": true,
		"info":  false,
		"warn":  false,
		"bogus": false,
		"error": false,
	}
	for level, debugEnabled := range cases {
		l, err := New(level)
		require.NoError(t, err)
		assert.Equal(t, debugEnabled, l.Core().Enabled(zap.DebugLevel), "level %s", level)
	}
}
