package lifecycle

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/plexsphere/plexsvc/internal/formula"
	"github.com/plexsphere/plexsvc/internal/fsutil"
	"github.com/plexsphere/plexsvc/internal/runner"
	"github.com/plexsphere/plexsvc/internal/runstate"
	"github.com/plexsphere/plexsvc/internal/scope"
	"github.com/plexsphere/plexsvc/internal/unitfile"
)

// --- Mocks ---

type recorder struct {
	events []string
}

type mockRunner struct {
	rec    *recorder
	envs   []map[string]string
	failOn string
}

func (m *mockRunner) Run(line string, env map[string]string) (string, error) {
	m.rec.events = append(m.rec.events, "run:"+line)
	m.envs = append(m.envs, env)
	if m.failOn != "" && strings.Contains(line, m.failOn) {
		return "", &runner.ExecutionError{Command: line, ExitCode: 1}
	}
	return "", nil
}

type mockSnapshotter struct {
	rec   *recorder
	infos map[string]runstate.Info
	err   error
}

func (m *mockSnapshotter) RunInfo(id string) (runstate.Info, error) {
	if m.err != nil {
		return runstate.Info{}, m.err
	}
	if info, ok := m.infos[id]; ok {
		return info, nil
	}
	return runstate.Info{State: runstate.StateStopped}, nil
}

func (m *mockSnapshotter) Reset() { m.rec.events = append(m.rec.events, "reset") }

// --- Test helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const redisTemplate = `<plist><dict>
<key>Label</key><string>{{id}}</string>
<key>ProgramArguments</key><array><string>/opt/redis/bin/redis-server</string></array>
<key>RunAtLoad</key><true/>
</dict></plist>`

func redis() Definition {
	return formula.New("homebrew.redis", "redis", redisTemplate, nil)
}

type harness struct {
	driver *Driver
	rec    *recorder
	runner *mockRunner
	snap   *mockSnapshotter
	home   string
	sysDir string
}

func newHarness(t *testing.T, uid int) *harness {
	t.Helper()
	tmp := t.TempDir()
	h := &harness{
		rec:    &recorder{},
		home:   filepath.Join(tmp, "home", "alice"),
		sysDir: filepath.Join(tmp, "usr", "lib", "systemd", "system"),
	}
	h.runner = &mockRunner{rec: h.rec}
	h.snap = &mockSnapshotter{rec: h.rec, infos: map[string]runstate.Info{}}

	invoker := scope.Identity{UID: uid, Username: "alice", HomeDir: h.home}
	if uid == scope.SystemUID {
		invoker = scope.Identity{UID: 0, Username: "root", HomeDir: filepath.Join(tmp, "root")}
	}
	ctx := scope.Context{Invoker: invoker, Systemctl: "systemctl", RuntimeDirBase: "/run/user"}
	lookup := func(uid int) (scope.Identity, error) {
		switch uid {
		case 0:
			return scope.Identity{UID: 0, Username: "root", HomeDir: filepath.Join(tmp, "root")}, nil
		case 1001:
			return scope.Identity{UID: 1001, Username: "bob", HomeDir: filepath.Join(tmp, "home", "bob")}, nil
		}
		return scope.Identity{}, errors.New("no such user")
	}

	h.driver = NewDriver(Config{SystemUnitDir: h.sysDir}, ctx, h.runner, h.snap, lookup, testLogger())
	h.driver.writeFile = func(path string, data []byte, perm os.FileMode) error {
		h.rec.events = append(h.rec.events, "write:"+filepath.Base(path))
		return fsutil.WriteFileAtomic(path, data, perm)
	}
	return h
}

func (h *harness) userUnit() string {
	return filepath.Join(h.home, ".config", "systemd", "user", "homebrew.redis.service")
}

func mustPerform(t *testing.T, h *harness, action Action, def Definition) Result {
	t.Helper()
	res := h.driver.Perform(action, def)
	if res.Err != nil {
		t.Fatalf("Perform(%s) = %v", action, res.Err)
	}
	if res.Refused != nil {
		t.Fatalf("Perform(%s) refused: %v", action, res.Refused)
	}
	return res
}

// --- Transitions ---

func TestPerform_StartOnFreshService(t *testing.T) {
	h := newHarness(t, 1000)

	mustPerform(t, h, ActionStart, redis())

	want := []string{
		"write:homebrew.redis.service",
		"run:systemctl --user daemon-reload",
		"run:systemctl --user start homebrew.redis",
		"reset",
	}
	if diff := cmp.Diff(want, h.rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	for _, env := range h.runner.envs {
		if env["XDG_RUNTIME_DIR"] != "/run/user/1000" {
			t.Errorf("env = %v, want runtime dir override", env)
		}
	}

	data, err := os.ReadFile(h.userUnit())
	if err != nil {
		t.Fatalf("ReadFile() = %v", err)
	}
	if !strings.Contains(string(data), "Description=homebrew.redis") || !strings.Contains(string(data), "WantedBy=default.target") {
		t.Errorf("unit content = %s", data)
	}
}

func TestPerform_RunIsStart(t *testing.T) {
	h := newHarness(t, 1000)

	mustPerform(t, h, ActionRun, redis())

	if !strings.Contains(strings.Join(h.rec.events, "\n"), "run:systemctl --user start homebrew.redis") {
		t.Errorf("events = %v, want a start", h.rec.events)
	}
}

func TestPerform_InstallIsIdempotent(t *testing.T) {
	h := newHarness(t, 1000)

	mustPerform(t, h, ActionInstall, redis())
	first, err := os.ReadFile(h.userUnit())
	if err != nil {
		t.Fatalf("ReadFile() = %v", err)
	}
	mustPerform(t, h, ActionInstall, redis())
	second, _ := os.ReadFile(h.userUnit())

	if string(first) != string(second) {
		t.Errorf("content changed between installs:\n%s\n---\n%s", first, second)
	}
	want := []string{
		"write:homebrew.redis.service",
		"run:systemctl --user daemon-reload",
		"run:systemctl --user daemon-reload",
	}
	if diff := cmp.Diff(want, h.rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPerform_InstallNeverOverwrites(t *testing.T) {
	h := newHarness(t, 1000)
	if err := fsutil.WriteFileAtomic(h.userUnit(), []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}

	mustPerform(t, h, ActionInstall, redis())

	data, _ := os.ReadFile(h.userUnit())
	if string(data) != "custom" {
		t.Errorf("content = %q, want existing file preserved", data)
	}
}

func TestPerform_UninstallIsIdempotent(t *testing.T) {
	h := newHarness(t, 1000)
	mustPerform(t, h, ActionInstall, redis())

	mustPerform(t, h, ActionUninstall, redis())
	if ok, _ := fsutil.Exists(h.userUnit()); ok {
		t.Fatal("unit file still present after uninstall")
	}
	mustPerform(t, h, ActionUninstall, redis())

	reloads := 0
	for _, e := range h.rec.events {
		if e == "run:systemctl --user daemon-reload" {
			reloads++
		}
	}
	if reloads != 3 {
		t.Errorf("daemon-reload count = %d, want 3", reloads)
	}
}

func TestPerform_Register(t *testing.T) {
	h := newHarness(t, 1000)

	mustPerform(t, h, ActionRegister, redis())

	want := []string{
		"write:homebrew.redis.service",
		"run:systemctl --user daemon-reload",
		"run:systemctl --user enable homebrew.redis",
	}
	if diff := cmp.Diff(want, h.rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPerform_UnregisterWithoutFileLeavesNothing(t *testing.T) {
	h := newHarness(t, 1000)

	mustPerform(t, h, ActionUnregister, redis())

	if ok, _ := fsutil.Exists(h.userUnit()); ok {
		t.Error("unit file left behind after unregister")
	}
	want := []string{
		"write:homebrew.redis.service",
		"run:systemctl --user daemon-reload",
		"run:systemctl --user disable homebrew.redis",
		"run:systemctl --user daemon-reload",
	}
	if diff := cmp.Diff(want, h.rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPerform_UnregisterFailureStillRemovesCreatedFile(t *testing.T) {
	h := newHarness(t, 1000)
	h.runner.failOn = "disable"

	res := h.driver.Perform(ActionUnregister, redis())

	var execErr *runner.ExecutionError
	if !errors.As(res.Err, &execErr) {
		t.Fatalf("Err = %v, want *runner.ExecutionError from disable", res.Err)
	}
	if ok, _ := fsutil.Exists(h.userUnit()); ok {
		t.Error("unit file left behind after failed unregister")
	}
	want := []string{
		"write:homebrew.redis.service",
		"run:systemctl --user daemon-reload",
		"run:systemctl --user disable homebrew.redis",
		"run:systemctl --user daemon-reload",
	}
	if diff := cmp.Diff(want, h.rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPerform_UnregisterFailureKeepsExistingFile(t *testing.T) {
	h := newHarness(t, 1000)
	mustPerform(t, h, ActionInstall, redis())
	h.runner.failOn = "disable"

	if res := h.driver.Perform(ActionUnregister, redis()); res.Err == nil {
		t.Fatal("Err = nil, want disable failure")
	}
	if ok, _ := fsutil.Exists(h.userUnit()); !ok {
		t.Error("pre-existing unit file removed by failed unregister")
	}
}

func TestPerform_UnregisterKeepsExistingFile(t *testing.T) {
	h := newHarness(t, 1000)
	mustPerform(t, h, ActionInstall, redis())

	mustPerform(t, h, ActionUnregister, redis())

	if ok, _ := fsutil.Exists(h.userUnit()); !ok {
		t.Error("pre-existing unit file removed by unregister")
	}
}

func TestPerform_StopDoesNotTouchFile(t *testing.T) {
	h := newHarness(t, 1000)

	mustPerform(t, h, ActionStop, redis())

	want := []string{"run:systemctl --user stop homebrew.redis", "reset"}
	if diff := cmp.Diff(want, h.rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if ok, _ := fsutil.Exists(h.userUnit()); ok {
		t.Error("stop created a unit file")
	}
}

func TestPerform_Restart(t *testing.T) {
	h := newHarness(t, 1000)

	mustPerform(t, h, ActionRestart, redis())

	want := []string{
		"write:homebrew.redis.service",
		"run:systemctl --user daemon-reload",
		"run:systemctl --user restart homebrew.redis",
		"reset",
	}
	if diff := cmp.Diff(want, h.rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPerform_SystemScope(t *testing.T) {
	h := newHarness(t, 0)

	mustPerform(t, h, ActionStart, redis())

	if ok, _ := fsutil.Exists(filepath.Join(h.sysDir, "homebrew.redis.service")); !ok {
		t.Error("unit file not written to the system directory")
	}
	for _, e := range h.rec.events {
		if strings.Contains(e, "--user") {
			t.Errorf("event %q uses user scope for root", e)
		}
	}
	for _, env := range h.runner.envs {
		if env != nil {
			t.Errorf("env = %v, want none for system scope", env)
		}
	}
}

func TestPerform_FailureResetsCacheAndReports(t *testing.T) {
	h := newHarness(t, 1000)
	h.runner.failOn = "start"

	res := h.driver.Perform(ActionStart, redis())

	var execErr *runner.ExecutionError
	if !errors.As(res.Err, &execErr) {
		t.Fatalf("Err = %v, want *runner.ExecutionError", res.Err)
	}
	if res.OK() {
		t.Error("OK() = true for failed action")
	}
	if last := h.rec.events[len(h.rec.events)-1]; last != "reset" {
		t.Errorf("last event = %q, want reset even on failure", last)
	}
}

func TestPerform_UnsupportedKeysAreWarnings(t *testing.T) {
	h := newHarness(t, 1000)
	def := formula.New("homebrew.x", "x", `<plist><dict>
<key>UserName</key><string>nobody</string>
<key>Label</key><string>x</string>
<key>StandardOutPath</key><string>/tmp/o</string>
</dict></plist>`, nil)

	res := mustPerform(t, h, ActionInstall, def)

	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one aggregated warning", res.Warnings)
	}
	var uerr *unitfile.UnsupportedKeysError
	if !errors.As(res.Warnings[0], &uerr) {
		t.Fatalf("warning = %T, want *unitfile.UnsupportedKeysError", res.Warnings[0])
	}
	if diff := cmp.Diff([]string{"UserName", "StandardOutPath"}, uerr.Keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
}

func TestPerform_BrokenTemplateFailsInstall(t *testing.T) {
	h := newHarness(t, 1000)
	def := formula.New("homebrew.bad", "bad", "<plist><array/></plist>", nil)

	res := h.driver.Perform(ActionStart, def)

	if res.Err == nil {
		t.Fatal("Err = nil, want template error")
	}
	if len(h.rec.events) != 0 {
		t.Errorf("events = %v, want nothing run", h.rec.events)
	}
}

func TestPerform_InvalidAction(t *testing.T) {
	h := newHarness(t, 1000)
	if res := h.driver.Perform(Action("explode"), redis()); res.Err == nil {
		t.Error("Perform(explode) = nil error")
	}
}

// --- Ownership ---

func TestPerform_RefusesServicesOfOtherUsers(t *testing.T) {
	for _, action := range []Action{ActionStop, ActionRestart, ActionUnregister} {
		t.Run(string(action), func(t *testing.T) {
			h := newHarness(t, 1000)
			h.snap.infos["homebrew.redis"] = runstate.Info{State: runstate.StateStarted, UID: 1001, Owned: true}

			res := h.driver.Perform(action, redis())

			if !errors.Is(res.Refused, ErrOwnedByOtherUser) {
				t.Fatalf("Refused = %v, want ErrOwnedByOtherUser", res.Refused)
			}
			if res.Err != nil {
				t.Errorf("Err = %v, want nil for a refusal", res.Err)
			}
			if !strings.Contains(res.Refused.Error(), "bob") {
				t.Errorf("Refused = %q, want owner named", res.Refused.Error())
			}
			if len(h.rec.events) != 0 {
				t.Errorf("events = %v, want nothing run", h.rec.events)
			}
		})
	}
}

func TestPerform_OwnServiceIsNotRefused(t *testing.T) {
	h := newHarness(t, 1000)
	h.snap.infos["homebrew.redis"] = runstate.Info{State: runstate.StateStarted, UID: 1000, Owned: true}

	mustPerform(t, h, ActionStop, redis())
}

func TestPerform_GuardedActionSnapshotFailure(t *testing.T) {
	h := newHarness(t, 1000)
	h.snap.err = runstate.ErrScopeMarkerMissing

	res := h.driver.Perform(ActionStop, redis())
	if !errors.Is(res.Err, runstate.ErrScopeMarkerMissing) {
		t.Fatalf("Err = %v, want ErrScopeMarkerMissing", res.Err)
	}
}

// --- Batch ---

func TestPerformAll_ContinuesAfterFailure(t *testing.T) {
	h := newHarness(t, 1000)
	h.runner.failOn = "start homebrew.redis"
	pg := formula.New("homebrew.postgresql@16", "postgresql@16", `<plist><dict><key>Label</key><string>pg</string></dict></plist>`, nil)

	results := h.driver.PerformAll(ActionStart, []Definition{redis(), pg})

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Err == nil {
		t.Error("redis Err = nil, want failure")
	}
	if results[1].Err != nil {
		t.Errorf("postgresql Err = %v, want success", results[1].Err)
	}
	if !strings.Contains(strings.Join(h.rec.events, "\n"), "run:systemctl --user start homebrew.postgresqlAT16") {
		t.Errorf("events = %v, want postgresql started", h.rec.events)
	}
}

// --- Status ---

func TestStatus_NotRunningFallsBackToInvoker(t *testing.T) {
	h := newHarness(t, 1000)
	mustPerform(t, h, ActionInstall, redis())

	svc, err := h.driver.Status(redis())
	if err != nil {
		t.Fatalf("Status() = %v", err)
	}
	if svc.User != nil {
		t.Errorf("User = %+v, want nil", svc.User)
	}
	if svc.FilePath != h.userUnit() || !svc.Installed() {
		t.Errorf("FilePath = %q, want %q", svc.FilePath, h.userUnit())
	}
	if svc.State != runstate.StateStopped || svc.Started() {
		t.Errorf("State = %s", svc.State)
	}
	if svc.Name() != "redis" || svc.ServiceID != "homebrew.redis" {
		t.Errorf("Name/ServiceID = %s/%s", svc.Name(), svc.ServiceID)
	}
}

func TestStatus_SystemOwnedResolvesSystemPath(t *testing.T) {
	h := newHarness(t, 1000)
	h.snap.infos["homebrew.redis"] = runstate.Info{State: runstate.StateStarted, UID: 0, Owned: true}
	sysUnit := filepath.Join(h.sysDir, "homebrew.redis.service")
	if err := fsutil.WriteFileAtomic(sysUnit, []byte("[Service]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc, err := h.driver.Status(redis())
	if err != nil {
		t.Fatalf("Status() = %v", err)
	}
	if svc.User == nil || svc.User.Username != "root" {
		t.Fatalf("User = %+v, want root", svc.User)
	}
	if svc.FilePath != sysUnit {
		t.Errorf("FilePath = %q, want %q", svc.FilePath, sysUnit)
	}
	if !svc.Started() {
		t.Errorf("State = %s, want started", svc.State)
	}
}

func TestStatus_NoFile(t *testing.T) {
	h := newHarness(t, 1000)

	svc, err := h.driver.Status(redis())
	if err != nil {
		t.Fatalf("Status() = %v", err)
	}
	if svc.Installed() {
		t.Errorf("FilePath = %q, want empty", svc.FilePath)
	}
}

func TestStatus_UnknownOwner(t *testing.T) {
	h := newHarness(t, 1000)
	h.snap.infos["homebrew.redis"] = runstate.Info{State: runstate.StateStarted, UID: 4242, Owned: true}

	if _, err := h.driver.Status(redis()); err == nil {
		t.Error("Status() = nil error, want lookup failure")
	}
}

func TestStatusAll(t *testing.T) {
	h := newHarness(t, 1000)
	h.snap.infos["homebrew.redis"] = runstate.Info{State: runstate.StateStarted, UID: 1000, Owned: true}
	other := formula.New("homebrew.nginx", "nginx", "<plist><dict/></plist>", nil)

	results := h.driver.StatusAll([]Definition{redis(), other})

	if len(results) != 2 {
		t.Fatalf("len = %d", len(results))
	}
	if results[0].Service.User == nil || results[0].Service.User.Username != "alice" {
		t.Errorf("redis user = %+v, want invoker", results[0].Service.User)
	}
	if results[1].Service.State != runstate.StateStopped {
		t.Errorf("nginx state = %s", results[1].Service.State)
	}
}

// --- Cleanup ---

func TestCleanup_RemovesStoppedInstalledUnits(t *testing.T) {
	h := newHarness(t, 1000)
	nginx := formula.New("homebrew.nginx", "nginx", "<plist><dict/></plist>", nil)
	mustPerform(t, h, ActionInstall, redis())
	mustPerform(t, h, ActionInstall, nginx)
	h.snap.infos["homebrew.nginx"] = runstate.Info{State: runstate.StateStarted, UID: 1000, Owned: true}

	results := h.driver.Cleanup([]Definition{redis(), nginx})

	if len(results) != 1 || results[0].Definition.Name() != "redis" {
		t.Fatalf("results = %+v, want only redis cleaned", results)
	}
	if ok, _ := fsutil.Exists(h.userUnit()); ok {
		t.Error("redis unit still present")
	}
	nginxUnit := filepath.Join(h.home, ".config", "systemd", "user", "homebrew.nginx.service")
	if ok, _ := fsutil.Exists(nginxUnit); !ok {
		t.Error("started nginx unit removed")
	}
}

// --- Helpers ---

func TestServiceID(t *testing.T) {
	def := formula.New("homebrew.postgresql@16", "postgresql@16", "", nil)
	if got := ServiceID(def); got != "homebrew.postgresqlAT16" {
		t.Errorf("ServiceID() = %q", got)
	}
}

func TestParseAction(t *testing.T) {
	for _, a := range allActions {
		got, err := ParseAction(" " + strings.ToUpper(string(a)) + " ")
		if err != nil || got != a {
			t.Errorf("ParseAction(%q) = %q, %v", a, got, err)
		}
	}
	if _, err := ParseAction("status"); err == nil {
		t.Error("ParseAction(status) = nil error")
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	want := Config{
		Systemctl:      "systemctl",
		SystemUnitDir:  "/usr/lib/systemd/system",
		UserUnitDir:    ".config/systemd/user",
		RuntimeDirBase: "/run/user",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("ApplyDefaults() mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfig_Validate_EmptyFields(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty Systemctl", Config{SystemUnitDir: "a", UserUnitDir: "b", RuntimeDirBase: "c"}, "lifecycle: config: Systemctl is required"},
		{"empty SystemUnitDir", Config{Systemctl: "s", UserUnitDir: "b", RuntimeDirBase: "c"}, "lifecycle: config: SystemUnitDir is required"},
		{"empty UserUnitDir", Config{Systemctl: "s", SystemUnitDir: "a", RuntimeDirBase: "c"}, "lifecycle: config: UserUnitDir is required"},
		{"empty RuntimeDirBase", Config{Systemctl: "s", SystemUnitDir: "a", UserUnitDir: "b"}, "lifecycle: config: RuntimeDirBase is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
