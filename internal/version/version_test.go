package version

import (
	"regexp"
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if !regexp.MustCompile(`^\d+\.\d+\.\d+`).MatchString(v) {
		t.Errorf("Get() = %q, want semantic version", v)
	}
	if strings.TrimSpace(v) != v {
		t.Errorf("Get() = %q has surrounding whitespace", v)
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, "rosterbuild "+Get()) {
		t.Errorf("Full() = %q", full)
	}
	if !strings.Contains(full, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Full() = %q missing platform", full)
	}
}
