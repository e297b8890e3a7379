package cache

import (
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Platform is the platform tag of the running binary: GOOS-GOARCH, with the
// ARM revision appended on 32-bit ARM, e.g. linux-armv7.
var Platform = sync.OnceValue(func() string {
	return platformTag(runtime.GOOS, runtime.GOARCH, goarm())
})

func platformTag(goos, goarch, arm string) string {
	tag := goos + "-" + goarch
	if goarch == "arm" && arm != "" {
		tag += "v" + arm
	}
	return tag
}

func goarm() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "GOARM" {
			// GOARM may carry a float ABI suffix, e.g. "7,softfloat"
			v, _, _ := strings.Cut(s.Value, ",")
			return v
		}
	}
	return ""
}
