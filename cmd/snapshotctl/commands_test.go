package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/messaging"
	"github.com/temcen/hybrec/internal/ml"
)

type fakePublisher struct {
	version string
	path    string
	err     error
	closed  bool
}

func (f *fakePublisher) Publish(_ context.Context, version, path string) (messaging.SnapshotEvent, error) {
	if f.err != nil {
		return messaging.SnapshotEvent{}, f.err
	}
	f.version, f.path = version, path
	return messaging.SnapshotEvent{EventID: uuid.New(), Version: version, Path: path}, nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func writeSnapshot(t *testing.T, version string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, ml.WriteSnapshot(dir, ml.SnapshotManifest{
		Version: version,
		UserIDs: []int64{1},
		ItemIDs: []int64{10, 20},
	},
		mat.NewDense(1, 3, []float64{1, 2, 3}),
		mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 0}),
	))
	return dir
}

func run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func stubDeps(t *testing.T, brokers []string, publisher *fakePublisher) {
	t.Helper()
	origPublisher, origConfig := newPublisher, loadConfig
	t.Cleanup(func() { newPublisher, loadConfig = origPublisher, origConfig })

	loadConfig = func() (*config.Config, error) {
		return &config.Config{Kafka: config.KafkaConfig{Brokers: brokers}}, nil
	}
	newPublisher = func(config.KafkaConfig, *logrus.Logger) snapshotPublisher {
		return publisher
	}
}

func TestValidate(t *testing.T) {
	dir := writeSnapshot(t, "2024-06-01")

	out, err := run("validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "version:  2024-06-01")
	assert.Contains(t, out, "items:    2")
	assert.Contains(t, out, "factors:  3")
}

func TestValidate_Rejects(t *testing.T) {
	_, err := run("validate", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = run("validate")
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	dir := writeSnapshot(t, "v7")
	publisher := &fakePublisher{}
	stubDeps(t, []string{"localhost:9092"}, publisher)

	out, err := run("publish", dir)
	require.NoError(t, err)

	assert.Equal(t, "v7", publisher.version)
	assert.Equal(t, dir, publisher.path)
	assert.True(t, publisher.closed)
	assert.Contains(t, out, "published v7")
}

func TestPublish_Errors(t *testing.T) {
	t.Run("invalid snapshot is never announced", func(t *testing.T) {
		publisher := &fakePublisher{}
		stubDeps(t, []string{"localhost:9092"}, publisher)

		_, err := run("publish", t.TempDir())
		assert.Error(t, err)
		assert.Empty(t, publisher.version)
	})

	t.Run("no brokers", func(t *testing.T) {
		stubDeps(t, nil, &fakePublisher{})
		_, err := run("publish", writeSnapshot(t, "v1"))
		assert.ErrorContains(t, err, "no Kafka brokers")
	})

	t.Run("broker failure", func(t *testing.T) {
		stubDeps(t, []string{"localhost:9092"}, &fakePublisher{err: errors.New("connection refused")})
		_, err := run("publish", writeSnapshot(t, "v1"))
		assert.ErrorContains(t, err, "connection refused")
	})
}
