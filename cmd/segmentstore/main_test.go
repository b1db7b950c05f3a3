package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/mizosoft/segattr/client"
	"github.com/mizosoft/segattr/segmentstore"
	"github.com/mizosoft/segattr/wire"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"
)

const testSegment = "scope/stream/0.#epoch.0"

func TestStartNode(t *testing.T) {
	n, err := startNode(context.Background(), nodeConfig{
		Listen:      "127.0.0.1:0",
		AdminListen: "127.0.0.1:0",
		Token:       "secret",
		DataDir:     t.TempDir(),
		Segments:    []string{testSegment},
		Forward:     map[string]string{"scope/stream/1.#epoch.0": "elsewhere:9999"},
	}, zap.NewExample())
	assert.NilError(t, err)
	defer n.Close()

	c := client.New(client.Options{Logger: zap.NewExample()})
	defer c.Close()

	attribute := uuid.New()
	v, err := c.UpdateSegmentAttribute(context.Background(), testSegment, attribute, 10, wire.NoValue, n.server.Endpoint(), "secret")
	assert.NilError(t, err)
	assert.Equal(t, v, int64(10))

	_, err = c.UpdateSegmentAttribute(context.Background(), "scope/stream/1.#epoch.0", attribute, 10, wire.NoValue, n.server.Endpoint(), "secret")
	assert.ErrorIs(t, err, client.ErrWrongHost)

	res, err := http.Get("http://" + n.adminAddr + "/segments/" + url.PathEscape(testSegment) + "/attributes/" + attribute.String())
	assert.NilError(t, err)
	defer res.Body.Close()
	assert.Equal(t, res.StatusCode, http.StatusOK)

	var body segmentstore.AttributeResponse
	assert.NilError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, body.Value, int64(10))
}

func TestStartNodeKeepsExistingSegments(t *testing.T) {
	dir := t.TempDir()
	config := nodeConfig{Listen: "127.0.0.1:0", DataDir: dir, Segments: []string{testSegment}}

	n, err := startNode(context.Background(), config, zap.NewNop())
	assert.NilError(t, err)
	_, err = n.store.UpdateAttribute(testSegment, uuid.Nil, 1, wire.NoValue)
	assert.NilError(t, err)
	assert.NilError(t, n.Close())

	n, err = startNode(context.Background(), config, zap.NewNop())
	assert.NilError(t, err)
	defer n.Close()
	v, err := n.store.GetAttribute(testSegment, uuid.Nil)
	assert.NilError(t, err)
	assert.Equal(t, v, int64(1))
}

func TestStartNodeListenError(t *testing.T) {
	_, err := startNode(context.Background(), nodeConfig{Listen: "not an address"}, zap.NewNop())
	assert.ErrorContains(t, err, "listening on")
}

func TestAdvertisedEndpoint(t *testing.T) {
	bound := wire.Endpoint{Host: "10.0.0.5", Port: 9999}
	endpoint, err := advertisedEndpoint("", bound)
	assert.NilError(t, err)
	assert.Equal(t, endpoint, bound)

	endpoint, err = advertisedEndpoint("node1.example.com", wire.Endpoint{Host: "::", Port: 9999})
	assert.NilError(t, err)
	assert.Equal(t, endpoint, wire.Endpoint{Host: "node1.example.com", Port: 9999})

	endpoint, err = advertisedEndpoint("node1.example.com:12345", wire.Endpoint{Host: "0.0.0.0", Port: 9999})
	assert.NilError(t, err)
	assert.Equal(t, endpoint, wire.Endpoint{Host: "node1.example.com", Port: 12345})

	_, err = advertisedEndpoint("", wire.Endpoint{Host: "::", Port: 9999})
	assert.ErrorContains(t, err, "--advertise")
	_, err = advertisedEndpoint("", wire.Endpoint{Host: "0.0.0.0", Port: 9999})
	assert.ErrorContains(t, err, "--advertise")
}

func TestStartNodeRejectsWildcardRegistration(t *testing.T) {
	_, err := startNode(context.Background(), nodeConfig{
		Listen:        "0.0.0.0:0",
		Segments:      []string{testSegment},
		EtcdEndpoints: []string{"127.0.0.1:2379"},
	}, zap.NewNop())
	assert.ErrorContains(t, err, "--advertise")
}
