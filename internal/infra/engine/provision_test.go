package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/aide-sh/aide/internal/domain"
)

// fakePM writes a shell script standing in for a package manager and
// returns a PackageManager pointed at it. Each invocation appends its
// arguments to logFile, and the script exits with failCount failures
// before starting to succeed.
func fakePM(t *testing.T, dir string, failCount int) (*PackageManager, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures are unix-only")
	}
	logFile := filepath.Join(dir, "pm.log")
	countFile := filepath.Join(dir, "pm.count")
	script := `#!/bin/sh
echo "$@" >> ` + logFile + `
n=0
[ -f ` + countFile + ` ] && n=$(cat ` + countFile + `)
n=$((n+1))
echo $n > ` + countFile + `
case "$1" in
  clean|cleanup) exit 0 ;;
esac
if [ $n -le ` + strconv.Itoa(failCount) + ` ]; then exit 1; fi
exit 0
`
	bin := filepath.Join(dir, "fakepm")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake pm: %v", err)
	}
	return &PackageManager{
		Bin:         bin,
		InstallArgs: []string{"install", "-y"},
		CleanArgs:   []string{"clean"},
	}, logFile
}

func TestEnsureToolAlreadyPresent(t *testing.T) {
	p := NewProvisioner(nil, "", "")
	p.SetLookPath(func(name string) (string, error) { return "/usr/bin/" + name, nil })

	if err := p.EnsureTool(context.Background(), Tool{Name: "git", Required: true}); err != nil {
		t.Fatalf("EnsureTool: %v", err)
	}
}

func TestEnsureToolInstalls(t *testing.T) {
	dir := t.TempDir()
	pm, _ := fakePM(t, dir, 0)

	// The tool is absent on the first probe and appears after the
	// install succeeds.
	installed := false
	p := NewProvisioner(pm, "", "")
	p.SetLookPath(func(name string) (string, error) {
		if installed {
			return "/usr/bin/" + name, nil
		}
		installed = true
		return "", errors.New("not found")
	})

	if err := p.EnsureTool(context.Background(), Tool{Name: "cmake", Required: true}); err != nil {
		t.Fatalf("EnsureTool: %v", err)
	}
}

func TestEnsureToolCleansCacheOnceThenRetries(t *testing.T) {
	dir := t.TempDir()
	// First install attempt fails, later ones succeed.
	pm, logFile := fakePM(t, dir, 1)

	probes := 0
	p := NewProvisioner(pm, "", "")
	p.SetLookPath(func(name string) (string, error) {
		probes++
		if probes >= 2 {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	})

	if err := p.EnsureTool(context.Background(), Tool{Name: "g++", Package: "build-essential", Required: true}); err != nil {
		t.Fatalf("EnsureTool: %v", err)
	}

	log, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read pm log: %v", err)
	}
	// Expected sequence: failed install, one cache clean, successful install.
	want := "install -y build-essential\nclean\ninstall -y build-essential\n"
	if string(log) != want {
		t.Errorf("pm invocations:\n%s\nwant:\n%s", log, want)
	}
}

func TestEnsureToolExhaustion(t *testing.T) {
	dir := t.TempDir()
	pm, _ := fakePM(t, dir, 100) // never succeeds

	p := NewProvisioner(pm, "", "")
	p.SetLookPath(func(string) (string, error) { return "", errors.New("not found") })

	err := p.EnsureTool(context.Background(), Tool{Name: "cmake", Required: true})
	if !errors.Is(err, domain.ErrDependencyUnsatisfied) {
		t.Fatalf("err = %v, want ErrDependencyUnsatisfied", err)
	}
}

func TestEnsureToolNoPackageManager(t *testing.T) {
	p := NewProvisioner(nil, "", "")
	p.SetLookPath(func(string) (string, error) { return "", errors.New("not found") })

	err := p.EnsureTool(context.Background(), Tool{Name: "git", Required: true})
	if !errors.Is(err, domain.ErrDependencyUnsatisfied) {
		t.Fatalf("err = %v, want ErrDependencyUnsatisfied", err)
	}
}

func TestBuildDirsOrder(t *testing.T) {
	p := NewProvisioner(nil, "", "/src/engine")
	dirs := p.BuildDirs()
	if len(dirs) != 2 {
		t.Fatalf("len = %d, want 2", len(dirs))
	}
	if filepath.Base(dirs[0]) != "bin" {
		t.Errorf("dirs[0] = %s, want build/bin first", dirs[0])
	}
}
