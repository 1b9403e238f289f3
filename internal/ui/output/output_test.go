package output_test

import (
	"bytes"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"go.trai.ch/cratesync/internal/ui/output"
)

func TestColorProfile(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, termenv.Ascii, output.ColorProfile(&bytes.Buffer{}))

	// A buffer is never a terminal.
	t.Setenv("NO_COLOR", "")
	assert.Equal(t, termenv.Ascii, output.ColorProfile(&bytes.Buffer{}))
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, output.IsTerminal(&bytes.Buffer{}))
	assert.False(t, output.IsTerminal(nil))
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	out := output.New(&buf)
	assert.NotNil(t, out)

	_, _ = out.WriteString("test")
	assert.Equal(t, "test", buf.String())
}

func TestNew_Nil(t *testing.T) {
	out := output.New(nil)
	assert.NotNil(t, out)
}
