package util

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/wikisync/pkg/errors"
)

func TestHandleFatalError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		expOutput string
		expLogged bool
	}{
		{
			name:      "FriendlyError",
			err:       errors.WithContext(errors.NewFriendlyError("The wiki rejected the token."), "start"),
			expOutput: "The wiki rejected the token.\n",
		},
		{
			name:      "PlainError",
			err:       errors.New("connection refused"),
			expOutput: "",
			expLogged: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			hook := logrusTest.NewGlobal()
			defer log.StandardLogger().ReplaceHooks(make(log.LevelHooks))

			var out bytes.Buffer
			var exitCode int
			stderr = &out
			exit = func(code int) { exitCode = code }

			HandleFatalError(test.err)
			assert.Equal(t, 1, exitCode)
			assert.Equal(t, test.expOutput, out.String())

			if test.expLogged {
				if assert.NotNil(t, hook.LastEntry()) {
					assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
				}
			} else {
				assert.Nil(t, hook.LastEntry())
			}
		})
	}
}

func TestHandlePanic(t *testing.T) {
	assert.PanicsWithValue(t, "boom", func() {
		defer HandlePanic()
		panic("boom")
	})
}
