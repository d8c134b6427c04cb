package driver_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tetratelabs/slotvm/internal/driver"
	"github.com/tetratelabs/slotvm/module"
)

func TestRun_exitCodes(t *testing.T) {
	log := zap.NewNop()

	t.Run("success, interp", func(t *testing.T) {
		assert.Equal(t, driver.ExitOK, driver.Run([]byte(`MOV 7 a; OUT a`), driver.BackendInterp, log))
	})

	t.Run("success, jit", func(t *testing.T) {
		assert.Equal(t, driver.ExitOK, driver.Run([]byte(`MOV 7 a; OUT a`), driver.BackendJIT, log))
	})

	t.Run("parse error", func(t *testing.T) {
		assert.Equal(t, driver.ExitParseError, driver.Run([]byte(`BOGUS`), driver.BackendInterp, log))
	})

	t.Run("runtime error, interp", func(t *testing.T) {
		assert.Equal(t, driver.ExitRuntimeError, driver.Run([]byte(`MOV 1 x; DIV x 0`), driver.BackendInterp, log))
	})

	t.Run("runtime error, jit", func(t *testing.T) {
		assert.Equal(t, driver.ExitRuntimeError, driver.Run([]byte(`MOV 1 x; DIV x 0`), driver.BackendJIT, log))
	})

	t.Run("link error, jit", func(t *testing.T) {
		assert.Equal(t, driver.ExitRuntimeError, driver.Run([]byte(`JZ 0 nowhere`), driver.BackendJIT, log))
	})
}

func TestRunWithRegistry_capturesStdout(t *testing.T) {
	var buf bytes.Buffer
	reg := module.NewRegistry(module.WithStdout(&buf))
	code := driver.RunWithRegistry([]byte(`MOV 7 a; OUT a`), driver.BackendInterp, reg, zap.NewNop())
	assert.Equal(t, driver.ExitOK, code)
	assert.Equal(t, "7\n", buf.String())
}

func TestParseBackend(t *testing.T) {
	b, err := driver.ParseBackend("jit")
	assert.NoError(t, err)
	assert.Equal(t, driver.BackendJIT, b)

	b, err = driver.ParseBackend("")
	assert.NoError(t, err)
	assert.Equal(t, driver.BackendInterp, b)

	_, err = driver.ParseBackend("bogus")
	assert.Error(t, err)
}
