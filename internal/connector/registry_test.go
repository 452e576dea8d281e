package connector_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/nagare/internal/connector"
	"github.com/ashita-ai/nagare/internal/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type echoConnector struct {
	calls int
}

func (e *echoConnector) Type() string           { return "echo" }
func (e *echoConnector) Capabilities() []string { return []string{"echo", "fail"} }
func (e *echoConnector) Run(_ context.Context, action string, params connector.Params) (connector.Result, error) {
	e.calls++
	if action == "fail" {
		return connector.Failure("asked to fail"), nil
	}
	return connector.Success(map[string]any{"echo": params["value"]}), nil
}

type recordingStore struct {
	mu    sync.Mutex
	infos []model.ConnectorInfo
	err   error
}

func (s *recordingStore) UpsertConnector(_ context.Context, info model.ConnectorInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.infos = append(s.infos, info)
	return nil
}

func newRegistry(t *testing.T, store connector.Store) (*connector.Registry, *echoConnector) {
	t.Helper()
	echo := &echoConnector{}
	reg, err := connector.NewRegistry(discard, store,
		connector.Registration{Name: "echo", Connector: echo},
		connector.Registration{Name: "local_file", Connector: connector.NewLocalFile(t.TempDir())},
	)
	require.NoError(t, err)
	return reg, echo
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := connector.NewRegistry(discard, nil,
		connector.Registration{Name: "a", Connector: &echoConnector{}},
		connector.Registration{Name: "a", Connector: &echoConnector{}},
	)
	assert.Error(t, err)

	_, err = connector.NewRegistry(discard, nil, connector.Registration{Name: "", Connector: &echoConnector{}})
	assert.Error(t, err)
}

func TestRegistryRunDispatches(t *testing.T) {
	reg, echo := newRegistry(t, nil)

	res, err := reg.Run(context.Background(), "echo", "echo", connector.Params{"value": 42})
	require.NoError(t, err)
	assert.False(t, res.IsError())
	assert.Equal(t, 42, res.Fields["echo"])
	assert.Equal(t, 1, echo.calls)

	res, err = reg.Run(context.Background(), "echo", "fail", nil)
	require.NoError(t, err, "error results are not Go errors")
	assert.True(t, res.IsError())
	assert.Equal(t, "asked to fail", res.Message)
}

func TestRegistryUnsupportedAction(t *testing.T) {
	reg, echo := newRegistry(t, nil)

	_, err := reg.Run(context.Background(), "echo", "explode", nil)
	var ua *model.UnsupportedActionError
	require.True(t, errors.As(err, &ua))
	assert.Equal(t, "echo", ua.Connector)
	assert.Equal(t, "explode", ua.Action)
	assert.Equal(t, []string{"echo", "fail"}, ua.Supported)
	assert.Zero(t, echo.calls, "connector must not be invoked")
}

type panicky struct{}

func (panicky) Type() string           { return "panicky" }
func (panicky) Capabilities() []string { return []string{"boom"} }
func (panicky) Run(context.Context, string, connector.Params) (connector.Result, error) {
	var m map[string]int
	m["x"]++
	return connector.Result{}, nil
}

func TestRegistryRecoversConnectorPanic(t *testing.T) {
	reg, err := connector.NewRegistry(discard, nil, connector.Registration{Name: "panicky", Connector: panicky{}})
	require.NoError(t, err)

	res, err := reg.Run(context.Background(), "panicky", "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connector panicky: boom panicked")
	assert.Equal(t, connector.Result{}, res)
}

func TestRegistryMissingConnector(t *testing.T) {
	reg, _ := newRegistry(t, nil)

	_, err := reg.Run(context.Background(), "ftp", "get", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
	var nf *connector.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, []string{"echo", "local_file"}, nf.Available)

	_, err = reg.Capabilities(context.Background(), "ftp")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = reg.Test(context.Background(), "ftp")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRegistryCapabilitiesAreCopies(t *testing.T) {
	reg, _ := newRegistry(t, nil)
	caps, err := reg.Capabilities(context.Background(), "echo")
	require.NoError(t, err)
	caps[0] = "mutated"

	again, err := reg.Capabilities(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", again[0])
}

func TestRegistrySyncsOnFirstUseOnce(t *testing.T) {
	store := &recordingStore{}
	reg, _ := newRegistry(t, store)

	_, err := reg.Capabilities(context.Background(), "echo")
	require.NoError(t, err)
	_, err = reg.Run(context.Background(), "echo", "echo", nil)
	require.NoError(t, err)
	require.NoError(t, reg.Sync(context.Background()))

	require.Len(t, store.infos, 2)
	assert.Equal(t, "echo", store.infos[0].Name)
	assert.Equal(t, "local_file", store.infos[1].Name)
	assert.Equal(t, "file", store.infos[1].Type)
}

func TestRegistrySyncFailureDoesNotBlockDispatch(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	reg, _ := newRegistry(t, store)

	res, err := reg.Run(context.Background(), "echo", "echo", connector.Params{"value": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", res.Fields["echo"])
	assert.Error(t, reg.Sync(context.Background()), "failed sync is retried on the next call")
}

func TestRegistryListAndTest(t *testing.T) {
	reg, _ := newRegistry(t, nil)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "echo", list[0].Name)
	assert.Contains(t, list[1].Capabilities, "read_file")

	res, err := reg.Test(context.Background(), "local_file")
	require.NoError(t, err)
	m := res.Map()
	assert.Equal(t, "success", m["status"])
	assert.Equal(t, "local_file", m["connector"])
	assert.Equal(t, "file", m["type"])
}

func TestResultMap(t *testing.T) {
	r := connector.Failure("bad %s", "thing").With("supported_actions", []string{"a"})
	m := r.Map()
	assert.Equal(t, "error", m["status"])
	assert.Equal(t, "bad thing", m["message"])
	assert.Equal(t, []string{"a"}, m["supported_actions"])

	data, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"bad thing","supported_actions":["a"]}`, string(data))

	ok := connector.Success(nil).Map()
	assert.Equal(t, map[string]any{"status": "success"}, ok)
}

func TestParams(t *testing.T) {
	p := connector.Params{"s": "x", "n": 3, "list": []any{"a"}, "one": "b", "obj": map[string]any{"k": 1}}
	s, ok := p.String("n")
	assert.True(t, ok)
	assert.Equal(t, "3", s)
	assert.Equal(t, "def", p.StringOr("missing", "def"))
	assert.Equal(t, "x", p.First("missing", "s"))
	assert.Equal(t, []any{"a"}, p.Slice("list"))
	assert.Equal(t, []any{"b"}, p.Slice("one"))
	assert.Nil(t, p.Slice("missing"))
	assert.Equal(t, map[string]any{"k": 1}, p.Map("obj"))
}
