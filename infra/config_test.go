package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig(strings.NewReader(`
# admin tool
segmentstore.admin.port = 12345
auth.token=abc=def
etcd.endpoints = localhost:2379, ,localhost:2380
request.timeout=250ms
empty=
`))
	assert.NilError(t, err)

	port, err := config.Int(KeyAdminPort, DefaultAdminPort)
	assert.NilError(t, err)
	assert.Equal(t, port, 12345)

	assert.Equal(t, config.String(KeyToken, ""), "abc=def")
	assert.DeepEqual(t, config.List(KeyEtcdEndpoints), []string{"localhost:2379", "localhost:2380"})

	timeout, err := config.Duration(KeyRequestTimeout, time.Second)
	assert.NilError(t, err)
	assert.Equal(t, timeout, 250*time.Millisecond)

	assert.Equal(t, config.String("empty", "fallback"), "fallback")
	assert.Equal(t, config.String("missing", "fallback"), "fallback")
	assert.Assert(t, config.List("missing") == nil)
}

func TestParseConfigDefaults(t *testing.T) {
	config := Config{}
	port, err := config.Int(KeyAdminPort, DefaultAdminPort)
	assert.NilError(t, err)
	assert.Equal(t, port, DefaultAdminPort)

	timeout, err := config.Duration(KeyRequestTimeout, 3*time.Second)
	assert.NilError(t, err)
	assert.Equal(t, timeout, 3*time.Second)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("just-a-key\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = ParseConfig(strings.NewReader("ok=1\n=value\n"))
	assert.ErrorContains(t, err, "line 2")

	config := Config{KeyAdminPort: "nine", KeyRequestTimeout: "soon"}
	_, err = config.Int(KeyAdminPort, 0)
	assert.ErrorContains(t, err, KeyAdminPort)
	_, err = config.Duration(KeyRequestTimeout, 0)
	assert.ErrorContains(t, err, KeyRequestTimeout)
}

func TestParseConfigFile(t *testing.T) {
	config, err := ParseConfigFile(filepath.Join(t.TempDir(), "missing.properties"))
	assert.NilError(t, err)
	assert.Equal(t, len(config), 0)

	path := filepath.Join(t.TempDir(), "segattr.properties")
	assert.NilError(t, os.WriteFile(path, []byte("auth.token=secret\n"), 0o644))
	config, err = ParseConfigFile(path)
	assert.NilError(t, err)
	assert.DeepEqual(t, config, Config{KeyToken: "secret"})
}

func TestParseAddressList(t *testing.T) {
	addresses, err := ParseAddressList("scope/s/0.#epoch.0=node1:9999, scope/s/1.#epoch.0=node2:9999")
	assert.NilError(t, err)
	assert.DeepEqual(t, addresses, map[string]string{
		"scope/s/0.#epoch.0": "node1:9999",
		"scope/s/1.#epoch.0": "node2:9999",
	})

	_, err = ParseAddressList("scope/s/0.#epoch.0")
	assert.ErrorContains(t, err, "expected 'id=address'")
}
