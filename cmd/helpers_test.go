// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/cartprobe/internal/config"
	"github.com/xkilldash9x/cartprobe/internal/driver/drivertest"
	"github.com/xkilldash9x/cartprobe/internal/mocks"
	"github.com/xkilldash9x/cartprobe/internal/observability"
)

// resetForTest isolates package-level state between command tests.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()
	// A silent logger; PersistentPreRunE's initialization becomes a no-op.
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "json"}, zapcore.AddSync(&bytes.Buffer{}))
	t.Cleanup(observability.ResetForTest)
}

// testEnv is a temporary working area with a config file pointing every output into it.
type testEnv struct {
	dir        string
	configPath string
}

func (e testEnv) auditLog() string        { return filepath.Join(e.dir, "audit.jsonl") }
func (e testEnv) screenshotDir() string   { return filepath.Join(e.dir, "shots") }
func (e testEnv) reportDir() string       { return filepath.Join(e.dir, "reports") }
func (e testEnv) path(name string) string { return filepath.Join(e.dir, name) }

const testConfig = `
wait:
  default_timeout: 500ms
  long_timeout: 500ms
  poll_interval: 10ms
interact:
  obscured_grace: 0s
report:
  dir: %REPORTS%
  formats: [jsonl]
  audit_log: %AUDIT%
screenshots:
  dir: %SHOTS%
cart:
  url: https://shop.example/cart
  item: "css:.row"
  name: "css:.name"
  price: "css:.price"
  quantity: "css:.qty"
  total: "id:total"
`

func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	resetForTest(t)
	dir := t.TempDir()
	env := testEnv{dir: dir, configPath: filepath.Join(dir, "cartprobe.yaml")}

	content := testConfig + extra
	for placeholder, value := range map[string]string{
		"%REPORTS%": env.reportDir(),
		"%AUDIT%":   env.auditLog(),
		"%SHOTS%":   env.screenshotDir(),
	} {
		content = strings.ReplaceAll(content, placeholder, value)
	}
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o600))
	return env
}

// executeCommand runs the root command with d and returns its output.
func executeCommand(t *testing.T, d deps, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(d)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// -- Fakes --

// fakePage is a drivertest page that records navigation.
type fakePage struct {
	*drivertest.Driver
	navigated []string
	navErr    error
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.navigated = append(p.navigated, url)
	if p.navErr != nil {
		return p.navErr
	}
	p.URL = url
	return nil
}

type fakeLauncher struct {
	page   *fakePage
	err    error
	closed int
}

func (l *fakeLauncher) Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (page, func(), error) {
	if l.err != nil {
		return nil, nil, l.err
	}
	return l.page, func() { l.closed++ }, nil
}

type fakeStoreProvider struct {
	store   *mocks.MockRunStore
	err     error
	cleaned int
}

func (p *fakeStoreProvider) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned++ }, nil
}

// unusedStores fails the test when a command touches the database unexpectedly.
type unusedStores struct{ t *testing.T }

func (u unusedStores) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	u.t.Errorf("store created unexpectedly")
	return nil, nil, errors.New("unexpected")
}

// cartPage builds a fake cart with the given rows and displayed total.
func cartPage(total string, rows ...[3]string) *fakePage {
	drv := drivertest.New()
	drv.Screenshot = []byte("\x89PNG fake")
	var els []*drivertest.Element
	for _, r := range rows {
		row := drivertest.NewElement("row " + r[0])
		row.Add(drivertest.CSS(".name"), drivertest.NewElement("name").WithText(r[0]))
		row.Add(drivertest.CSS(".price"), drivertest.NewElement("price").WithText(r[1]))
		row.Add(drivertest.CSS(".qty"), drivertest.NewElement("qty").WithText(r[2]))
		els = append(els, row)
	}
	drv.Set(drivertest.CSS(".row"), els...)
	drv.Set(drivertest.CSS(`[id="total"]`), drivertest.NewElement("total").WithText(total))
	return &fakePage{Driver: drv}
}
